package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

// ChromeDriver drives a local Chrome through the DevTools protocol.
type ChromeDriver struct {
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewChromeDriver launches the browser.
func NewChromeDriver(opts Options, logger *zap.Logger) (*ChromeDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ViewportWidth <= 0 || opts.ViewportHeight <= 0 {
		d := DefaultOptions()
		opts.ViewportWidth, opts.ViewportHeight = d.ViewportWidth, d.ViewportHeight
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	}))
	if opts.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, opts.Timeout)
		inner := cancel
		cancel = func() {
			timeoutCancel()
			inner()
		}
	}
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	logger.Info("browser started",
		zap.Bool("headless", opts.Headless),
		zap.Int("viewport_w", opts.ViewportWidth),
		zap.Int("viewport_h", opts.ViewportHeight))
	return &ChromeDriver{
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With(zap.String("component", "chromedp_driver")),
	}, nil
}

// run executes actions on the browser tab. The caller's ctx is only checked
// for cancellation since chromedp needs its own tab context.
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return chromedp.Run(d.ctx, actions...)
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	d.logger.Debug("navigating", zap.String("url", url))
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *ChromeDriver) Evaluate(ctx context.Context, script string, out any) error {
	if out != nil {
		return d.run(ctx, chromedp.Evaluate(script, out))
	}
	return d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, exception, err := runtime.Evaluate(script).WithAwaitPromise(true).Do(ctx)
		if err != nil {
			return err
		}
		if exception != nil {
			return exception
		}
		return nil
	}))
}

func (d *ChromeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

func (d *ChromeDriver) ClickAt(ctx context.Context, x, y float64) error {
	d.logger.Debug("clicking", zap.Float64("x", x), zap.Float64("y", y))
	return d.run(ctx, chromedp.MouseClickXY(x, y))
}

func (d *ChromeDriver) TypeText(ctx context.Context, text string) error {
	return d.run(ctx, chromedp.KeyEvent(text))
}

var modifierNames = map[string]input.Modifier{
	"Alt":     input.ModifierAlt,
	"Control": input.ModifierCtrl,
	"Meta":    input.ModifierMeta,
	"Shift":   input.ModifierShift,
}

var keyNames = map[string]string{
	"Backspace": kb.Backspace,
	"Enter":     kb.Enter,
	"Tab":       kb.Tab,
	"Escape":    kb.Escape,
}

func (d *ChromeDriver) PressKeys(ctx context.Context, keys ...string) error {
	actions := make([]chromedp.Action, 0, len(keys))
	for _, chord := range keys {
		parts := strings.Split(chord, "+")
		key := parts[len(parts)-1]
		if named, ok := keyNames[key]; ok {
			key = named
		} else {
			key = strings.ToLower(key)
		}
		var mods []input.Modifier
		for _, name := range parts[:len(parts)-1] {
			mod, ok := modifierNames[name]
			if !ok {
				return fmt.Errorf("unknown modifier %q in %q", name, chord)
			}
			mods = append(mods, mod)
		}
		actions = append(actions, chromedp.KeyEvent(key, chromedp.KeyModifiers(mods...)))
	}
	return d.run(ctx, actions...)
}

func (d *ChromeDriver) Wheel(ctx context.Context, x, y, deltaY float64) error {
	return d.run(ctx,
		chromedp.MouseEvent(input.MouseMoved, x, y),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseWheel, x, y).
				WithDeltaX(0).
				WithDeltaY(deltaY).Do(ctx)
		}),
	)
}

func (d *ChromeDriver) ScrollWindow(ctx context.Context, deltaY int) error {
	return d.Evaluate(ctx, fmt.Sprintf("window.scrollBy(0, %d)", deltaY), nil)
}

func (d *ChromeDriver) GoBack(ctx context.Context) error {
	return d.run(ctx, chromedp.NavigateBack())
}

func (d *ChromeDriver) URL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

// Close shuts the tab and the browser process.
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("closing browser")
	d.cancel()
	d.allocCancel()
	return nil
}
