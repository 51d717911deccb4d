package browser

import (
	"context"
	"fmt"
	goruntime "runtime"
	"strconv"
	"strings"
	"time"

	"github.com/lexcodex/codeanalysis/framework"
)

const (
	// BBoxesKey holds the current page's bounding boxes in the run context.
	BBoxesKey = "browser.bboxes"

	// GoogleURL is where the Google action and a fresh session start.
	GoogleURL = "https://www.google.com/"

	windowScroll  = 500
	elementScroll = 200
	waitDuration  = 5 * time.Second
)

func actionArgs(args map[string]interface{}) []string {
	switch v := args["args"].(type) {
	case []string:
		return v
	case nil:
		return nil
	default:
		return []string{fmt.Sprint(v)}
	}
}

func observe(text string) *framework.ToolResult {
	return &framework.ToolResult{Success: true, Data: map[string]interface{}{"observation": text}}
}

func lookupBBox(state *framework.Context, label string) (BBox, bool) {
	index, err := strconv.Atoi(strings.TrimSpace(label))
	if err != nil || state == nil {
		return BBox{}, false
	}
	raw, _ := state.Get(BBoxesKey)
	bboxes, _ := raw.([]BBox)
	if index < 0 || index >= len(bboxes) {
		return BBox{}, false
	}
	return bboxes[index], true
}

func noBBox(label string) *framework.ToolResult {
	return observe(fmt.Sprintf("Error: no bbox for : %s", label))
}

type browserTool struct {
	driver Driver
}

func (b browserTool) Category() string { return "browser" }
func (b browserTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{{Name: "args", Type: "array"}}
}
func (b browserTool) IsAvailable(ctx context.Context, state *framework.Context) bool {
	return b.driver != nil
}

// ClickTool clicks the centre of a labelled box: "Click [n]".
type ClickTool struct{ browserTool }

func (t *ClickTool) Name() string        { return "Click" }
func (t *ClickTool) Description() string { return "Click [Numerical_Label]" }
func (t *ClickTool) Execute(ctx context.Context, state *framework.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	list := actionArgs(args)
	if len(list) != 1 {
		return observe(fmt.Sprintf("Failed to click bounding box labeled as number %v", list)), nil
	}
	bbox, ok := lookupBBox(state, list[0])
	if !ok {
		return noBBox(list[0]), nil
	}
	if err := t.driver.ClickAt(ctx, bbox.X, bbox.Y); err != nil {
		return nil, err
	}
	return observe(fmt.Sprintf("Clicked %s", list[0])), nil
}

// TypeTool replaces a field's content and submits it: "Type [n]; [text]".
type TypeTool struct {
	browserTool
	// SelectAll is the chord that selects the field content.
	SelectAll string
}

func (t *TypeTool) Name() string        { return "Type" }
func (t *TypeTool) Description() string { return "Type [Numerical_Label]; [Content]" }
func (t *TypeTool) Execute(ctx context.Context, state *framework.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	list := actionArgs(args)
	if len(list) != 2 {
		return observe(fmt.Sprintf("Failed to type in element from bounding box labeled as number %v", list)), nil
	}
	bbox, ok := lookupBBox(state, list[0])
	if !ok {
		return noBBox(list[0]), nil
	}
	text := list[1]
	if err := t.driver.ClickAt(ctx, bbox.X, bbox.Y); err != nil {
		return nil, err
	}
	if err := t.driver.PressKeys(ctx, t.selectAll(), "Backspace"); err != nil {
		return nil, err
	}
	if err := t.driver.TypeText(ctx, text); err != nil {
		return nil, err
	}
	if err := t.driver.PressKeys(ctx, "Enter"); err != nil {
		return nil, err
	}
	return observe(fmt.Sprintf("Typed %s and submitted", text)), nil
}

func (t *TypeTool) selectAll() string {
	if t.SelectAll != "" {
		return t.SelectAll
	}
	if goruntime.GOOS == "darwin" {
		return "Meta+A"
	}
	return "Control+A"
}

// ScrollTool scrolls the window or one element: "Scroll [WINDOW|n]; [up|down]".
type ScrollTool struct{ browserTool }

func (t *ScrollTool) Name() string        { return "Scroll" }
func (t *ScrollTool) Description() string { return "Scroll [Numerical_Label or WINDOW]; [up or down]" }
func (t *ScrollTool) Execute(ctx context.Context, state *framework.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	list := actionArgs(args)
	if len(list) != 2 {
		return observe("Failed to scroll due to incorrect arguments."), nil
	}
	target, direction := list[0], list[1]
	sign := 1
	if strings.EqualFold(direction, "up") {
		sign = -1
	}
	if strings.EqualFold(target, "WINDOW") {
		if err := t.driver.ScrollWindow(ctx, sign*windowScroll); err != nil {
			return nil, err
		}
		return observe(fmt.Sprintf("Scrolled %s in window", direction)), nil
	}
	bbox, ok := lookupBBox(state, target)
	if !ok {
		return noBBox(target), nil
	}
	if err := t.driver.Wheel(ctx, bbox.X, bbox.Y, float64(sign*elementScroll)); err != nil {
		return nil, err
	}
	return observe(fmt.Sprintf("Scrolled %s in element", direction)), nil
}

// WaitTool pauses for five seconds.
type WaitTool struct {
	browserTool
	Sleep func(context.Context, time.Duration) error
}

func (t *WaitTool) Name() string        { return "Wait" }
func (t *WaitTool) Description() string { return "Wait" }
func (t *WaitTool) Execute(ctx context.Context, state *framework.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	sleep := t.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	if err := sleep(ctx, waitDuration); err != nil {
		return nil, err
	}
	return observe(fmt.Sprintf("Waited for %ds.", int(waitDuration.Seconds()))), nil
}

// GoBackTool navigates one page back.
type GoBackTool struct{ browserTool }

func (t *GoBackTool) Name() string        { return "GoBack" }
func (t *GoBackTool) Description() string { return "GoBack" }
func (t *GoBackTool) Execute(ctx context.Context, state *framework.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	if err := t.driver.GoBack(ctx); err != nil {
		return nil, err
	}
	url, err := t.driver.URL(ctx)
	if err != nil {
		return nil, err
	}
	return observe(fmt.Sprintf("Navigated back a page to %s.", url)), nil
}

// GoogleTool starts over from the search page.
type GoogleTool struct{ browserTool }

func (t *GoogleTool) Name() string        { return "Google" }
func (t *GoogleTool) Description() string { return "Google" }
func (t *GoogleTool) Execute(ctx context.Context, state *framework.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	if err := t.driver.Navigate(ctx, GoogleURL); err != nil {
		return nil, err
	}
	return observe("Navigated to google.com."), nil
}

// NewToolRegistry registers the six browser actions over driver.
func NewToolRegistry(driver Driver, sleep func(context.Context, time.Duration) error) (*framework.ToolRegistry, error) {
	base := browserTool{driver: driver}
	registry := framework.NewToolRegistry()
	for _, tool := range []framework.Tool{
		&ClickTool{base},
		&TypeTool{browserTool: base},
		&ScrollTool{base},
		&WaitTool{browserTool: base, Sleep: sleep},
		&GoBackTool{base},
		&GoogleTool{base},
	} {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
