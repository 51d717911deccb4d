// Package browser is the vision variant of the agent: it annotates the
// current page with numbered bounding boxes, shows the screenshot to the
// model and carries out one browser action per turn.
package browser

import (
	"context"
	"time"
)

// Driver is the browser surface the agent needs.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// Evaluate runs script in the page. out receives the JSON result and may
	// be nil when the result is not needed.
	Evaluate(ctx context.Context, script string, out any) error
	Screenshot(ctx context.Context) ([]byte, error)
	ClickAt(ctx context.Context, x, y float64) error
	TypeText(ctx context.Context, text string) error
	// PressKeys sends each key in order. A key may be a chord such as
	// "Control+A".
	PressKeys(ctx context.Context, keys ...string) error
	Wheel(ctx context.Context, x, y, deltaY float64) error
	ScrollWindow(ctx context.Context, deltaY int) error
	GoBack(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	Close() error
}

// Options configure a ChromeDriver.
type Options struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	// Timeout bounds the whole browser session; zero means none.
	Timeout time.Duration
}

// DefaultOptions is a headless 1280x1024 session.
func DefaultOptions() Options {
	return Options{Headless: true, ViewportWidth: 1280, ViewportHeight: 1024}
}

// BBox is one annotated element reported by markPage().
type BBox struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Text      string  `json:"text"`
	Type      string  `json:"type"`
	AriaLabel string  `json:"ariaLabel"`
}
