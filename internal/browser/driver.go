// internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-recorder/internal/browser/shim"
	"github.com/xkilldash9x/scalpel-recorder/internal/config"
	"github.com/xkilldash9x/scalpel-recorder/internal/recorder/frames"
)

const defaultLaunchTimeout = time.Minute

// Driver controls a single Chromium tab over the DevTools protocol.
type Driver struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *zap.Logger
	frames      *frameTree

	mu           sync.RWMutex
	bindings     map[string]binding
	navListeners []func(frames.Handle)

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// Launch starts a browser, opens its first tab and begins tracking frames.
// The browser outlives ctx cancellation and is torn down by Close.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("browser")

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions(cfg)...)
	tabOpts := []chromedp.ContextOption{chromedp.WithErrorf(logger.Sugar().Errorf)}
	if cfg.Debug {
		tabOpts = append(tabOpts, chromedp.WithDebugf(logger.Sugar().Debugf))
	}
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, tabOpts...)

	d := &Driver{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      logger,
		frames:      newFrameTree(),
		bindings:    make(map[string]binding),
		done:        make(chan struct{}),
	}
	chromedp.ListenTarget(tabCtx, d.onEvent)

	if err := d.start(ctx, cfg.LaunchTimeout); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, err
	}
	go d.watch()

	logger.Info("Browser launched.", zap.Bool("headless", cfg.Headless))
	return d, nil
}

// start allocates the browser within the launch timeout and prepares the tab.
func (d *Driver) start(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	started := make(chan error, 1)
	go func() {
		// The first Run owns the browser lifetime, so it gets the bare tab context.
		started <- chromedp.Run(d.ctx)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-started:
		if err != nil {
			return transportErr("launch", err)
		}
	case <-timer.C:
		return transportErr("launch", fmt.Errorf("browser did not start within %s", timeout))
	case <-ctx.Done():
		return transportErr("launch", ctx.Err())
	}

	err := d.runActions(ctx,
		page.SetBypassCSP(true),
		chromedp.ActionFunc(func(c context.Context) error {
			tree, err := page.GetFrameTree().Do(c)
			if err != nil {
				return err
			}
			d.frames.load(tree)
			return nil
		}),
	)
	return transportErr("tab setup", err)
}

// watch closes Done when the connection to the browser goes away.
func (d *Driver) watch() {
	var lost <-chan struct{}
	if c := chromedp.FromContext(d.ctx); c != nil && c.Browser != nil {
		lost = c.Browser.LostConnection
	}
	select {
	case <-d.ctx.Done():
	case <-lost:
		d.logger.Info("Lost connection to the browser.")
	case <-d.done:
	}
	d.markDone()
}

func (d *Driver) markDone() {
	d.doneOnce.Do(func() { close(d.done) })
}

// Done is closed once the tab or the browser is gone.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Navigate loads url in the tab and waits for the load event.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.runActions(ctx, chromedp.Navigate(url)); err != nil {
		return d.classify("navigate", err)
	}
	return nil
}

// MainFrame returns a snapshot of the top-level frame.
func (d *Driver) MainFrame() frames.Handle {
	if h, ok := d.frames.main(); ok {
		return h
	}
	return nil
}

// OnFrameNavigated registers fn for every committed frame navigation. fn runs
// on the transport's event goroutine and must not block.
func (d *Driver) OnFrameNavigated(fn func(frames.Handle)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navListeners = append(d.navListeners, fn)
}

// ExposeBinding makes a function named name callable from every current and
// future document of the tab.
func (d *Driver) ExposeBinding(ctx context.Context, name string, fn BindingFunc) error {
	raw := RawBindingName(name)
	d.mu.Lock()
	if _, dup := d.bindings[raw]; dup {
		d.mu.Unlock()
		return fmt.Errorf("binding %q already exposed", name)
	}
	d.bindings[raw] = binding{name: name, fn: fn}
	d.mu.Unlock()

	bridge := shim.BindingBridge(name, raw)
	err := d.runActions(ctx,
		runtime.AddBinding(raw),
		chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(bridge).Do(c)
			return err
		}),
		chromedp.Evaluate(bridge, nil),
	)
	if err != nil {
		d.mu.Lock()
		delete(d.bindings, raw)
		d.mu.Unlock()
		return d.classify("expose binding "+name, err)
	}
	d.logger.Debug("Binding exposed.", zap.String("name", name))
	return nil
}

// AddScriptTag appends a script element holding content to the current document.
func (d *Driver) AddScriptTag(ctx context.Context, content string) error {
	if err := d.runActions(ctx, chromedp.Evaluate(shim.ScriptTag(content), nil)); err != nil {
		return d.classify("add script tag", err)
	}
	return nil
}

// Evaluate runs expression in the main world of the top-level document.
func (d *Driver) Evaluate(ctx context.Context, expression string, res interface{}) error {
	if err := d.runActions(ctx, chromedp.Evaluate(expression, res)); err != nil {
		return d.classify("evaluate", err)
	}
	return nil
}

// Close shuts the browser down, waiting at most until ctx expires.
func (d *Driver) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		d.logger.Debug("Closing browser.")
		result := make(chan error, 1)
		go func() {
			// chromedp.Cancel blocks until the browser process exits.
			result <- chromedp.Cancel(d.ctx)
		}()
		select {
		case err = <-result:
		case <-ctx.Done():
			err = ctx.Err()
			d.logger.Warn("Browser shutdown timed out. Proceeding forcefully.")
		}
		d.cancelTab()
		d.cancelAlloc()
		d.markDone()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runActions runs CDP actions on the tab, bounded by the caller's context.
func (d *Driver) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(d.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// classify turns failures caused by a vanished browser into TransportErrors.
func (d *Driver) classify(op string, err error) error {
	select {
	case <-d.done:
		return transportErr(op, err)
	default:
	}
	if d.ctx.Err() != nil || errors.Is(err, chromedp.ErrInvalidContext) {
		return transportErr(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (d *Driver) onEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *page.EventFrameNavigated:
		if ev.Frame == nil {
			return
		}
		d.frames.navigated(ev.Frame)
		if h, ok := d.frames.snapshot(ev.Frame.ID); ok {
			d.notifyNavigated(h)
		}
	case *page.EventNavigatedWithinDocument:
		d.frames.navigatedWithinDocument(ev.FrameID, ev.URL)
	case *page.EventFrameAttached:
		d.frames.attached(ev.FrameID, ev.ParentFrameID)
	case *page.EventFrameDetached:
		d.frames.detached(ev.FrameID)
	case *runtime.EventExecutionContextCreated:
		d.frames.contextCreated(ev.Context)
	case *runtime.EventExecutionContextDestroyed:
		d.frames.contextDestroyed(ev.ExecutionContextID)
	case *runtime.EventExecutionContextsCleared:
		d.frames.contextsCleared()
	case *runtime.EventBindingCalled:
		d.dispatchBinding(ev)
	case *inspector.EventDetached:
		d.logger.Info("Browser tab detached.", zap.String("reason", string(ev.Reason)))
		d.markDone()
	case *inspector.EventTargetCrashed:
		d.logger.Error("Browser tab crashed.")
		d.markDone()
	}
}

func (d *Driver) notifyNavigated(h frames.Handle) {
	d.mu.RLock()
	listeners := slices.Clone(d.navListeners)
	d.mu.RUnlock()
	for _, fn := range listeners {
		fn(h)
	}
}

// allocatorOptions builds the exec allocator flags. The browser is headful
// unless configured otherwise.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	if !cfg.Headless {
		opts = append(opts,
			chromedp.Flag("hide-scrollbars", false),
			chromedp.Flag("mute-audio", false),
		)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// combineContext derives from ctx1, which carries the chromedp target, and
// is also cancelled when ctx2 is done.
func combineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)
	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
