package browser

import (
	"context"
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed mark_page.js
var markPageScript string

const (
	markAttempts = 10
	markDelay    = 3 * time.Second
)

// ErrMarkFailed is returned when markPage() never succeeded.
var ErrMarkFailed = errors.New("failed to mark page after multiple attempts")

// Page is an annotated snapshot of the current page.
type Page struct {
	// Screenshot is the base64 encoded PNG taken while labels were shown.
	Screenshot string
	BBoxes     []BBox
}

// Annotator labels interactive elements and captures the page.
type Annotator struct {
	Driver Driver
	Sleep  func(context.Context, time.Duration) error
	Logger *zap.Logger
}

func (a *Annotator) sleep(ctx context.Context, d time.Duration) error {
	if a.Sleep != nil {
		return a.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Annotate injects the marking script, retries markPage() while the page is
// still loading, captures the screenshot and removes the labels again.
func (a *Annotator) Annotate(ctx context.Context) (*Page, error) {
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := a.Driver.Evaluate(ctx, markPageScript, nil); err != nil {
		return nil, fmt.Errorf("inject mark script: %w", err)
	}
	var bboxes []BBox
	marked := false
	for attempt := 0; attempt < markAttempts; attempt++ {
		bboxes = nil
		err := a.Driver.Evaluate(ctx, "markPage()", &bboxes)
		if err == nil {
			marked = true
			break
		}
		logger.Debug("markPage not ready", zap.Int("attempt", attempt+1), zap.Error(err))
		if err := a.sleep(ctx, markDelay); err != nil {
			return nil, err
		}
	}
	if !marked {
		return nil, ErrMarkFailed
	}
	shot, err := a.Driver.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.Driver.Evaluate(ctx, "unmarkPage()", nil); err != nil {
		logger.Warn("unmark page", zap.Error(err))
	}
	return &Page{Screenshot: base64.StdEncoding.EncodeToString(shot), BBoxes: bboxes}, nil
}

// DescribeBBoxes renders the labels listed next to the screenshot.
func DescribeBBoxes(bboxes []BBox) string {
	labels := make([]string, len(bboxes))
	for i, bbox := range bboxes {
		text := bbox.AriaLabel
		if strings.TrimSpace(text) == "" {
			text = bbox.Text
		}
		labels[i] = fmt.Sprintf(`%d (<%s/>): "%s"`, i, bbox.Type, text)
	}
	return "\nValid Bounding Boxes:\n" + strings.Join(labels, "\n")
}
