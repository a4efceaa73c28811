// Package instrument keeps the recorder instrumentation present in the page.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scalpel-recorder/internal/browser/shim"
)

// Document is the part of the browser transport the installer needs.
type Document interface {
	AddScriptTag(ctx context.Context, content string) error
	Evaluate(ctx context.Context, expression string, res interface{}) error
}

// errInstrumentationMissing means every script was injected but the page
// still has no recorder singletons.
var errInstrumentationMissing = errors.New("recorder singletons missing after injection")

// InstallError reports a failed injection attempt. It is never fatal.
type InstallError struct {
	Stage string
	Err   error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("instrumentation install failed at %s: %v", e.Stage, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Options tune the retry behavior of Ensure.
type Options struct {
	Attempts int
	Interval time.Duration
}

// Installer injects the core and recorder modules and constructs their
// singletons. Re-running it on an instrumented document does nothing.
type Installer struct {
	doc     Document
	logger  *zap.Logger
	opts    Options
	scripts []stagedScript

	mu       sync.Mutex
	pending  bool
	installs int
}

type stagedScript struct {
	stage   string
	content string
}

// New prepares the scripts for a bundle.
func New(doc Document, bundle shim.Bundle, injected shim.InjectedScriptOptions, opts Options, logger *zap.Logger) (*Installer, error) {
	bootstrap, err := shim.BuildBootstrap(shim.BootstrapTemplate, injected)
	if err != nil {
		return nil, fmt.Errorf("failed to build bootstrap script: %w", err)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = 250 * time.Millisecond
	}
	return &Installer{
		doc:    doc,
		logger: logger.Named("instrument"),
		opts:   opts,
		scripts: []stagedScript{
			{stage: "core", content: shim.WrapModule(bundle.Core, shim.CoreModuleGlobal)},
			{stage: "recorder", content: shim.WrapModule(bundle.Recorder, shim.RecorderModuleGlobal)},
			{stage: "bootstrap", content: bootstrap},
		},
		pending: true,
	}, nil
}

// Install makes a single attempt. It reports whether scripts were injected;
// false with a nil error means the document was already instrumented.
func (i *Installer) Install(ctx context.Context) (bool, error) {
	var present bool
	if err := i.doc.Evaluate(ctx, shim.PresenceExpression, &present); err != nil {
		i.markPending()
		return false, &InstallError{Stage: "check", Err: err}
	}
	if present {
		i.markInstalled(false)
		return false, nil
	}

	for _, s := range i.scripts {
		if err := i.doc.AddScriptTag(ctx, s.content); err != nil {
			i.markPending()
			return false, &InstallError{Stage: s.stage, Err: err}
		}
	}

	// A script that throws inside its <script> tag does not fail AddScriptTag.
	if err := i.doc.Evaluate(ctx, shim.PresenceExpression, &present); err != nil {
		i.markPending()
		return false, &InstallError{Stage: "verify", Err: err}
	}
	if !present {
		i.markPending()
		return false, &InstallError{Stage: "verify", Err: errInstrumentationMissing}
	}
	i.markInstalled(true)
	return true, nil
}

// Ensure retries Install at the configured pace until it succeeds, the
// attempts run out, or ctx ends. On failure the installer stays pending so
// the caller can try again at its next opportunity.
func (i *Installer) Ensure(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(i.opts.Interval), 1)

	var lastErr error
	for attempt := 1; attempt <= i.opts.Attempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			if lastErr == nil {
				lastErr = &InstallError{Stage: "wait", Err: err}
			}
			break
		}

		injected, err := i.Install(ctx)
		if err == nil {
			if injected {
				i.logger.Debug("Instrumentation installed.", zap.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err
		i.logger.Debug("Instrumentation attempt failed.", zap.Int("attempt", attempt), zap.Error(err))
	}
	return lastErr
}

// Pending reports whether the current document may be missing instrumentation.
func (i *Installer) Pending() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pending
}

// Invalidate marks the document as replaced, e.g. after a navigation.
func (i *Installer) Invalidate() {
	i.markPending()
}

// Installs returns how many times scripts were actually injected.
func (i *Installer) Installs() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.installs
}

func (i *Installer) markPending() {
	i.mu.Lock()
	i.pending = true
	i.mu.Unlock()
}

func (i *Installer) markInstalled(injected bool) {
	i.mu.Lock()
	i.pending = false
	if injected {
		i.installs++
	}
	i.mu.Unlock()
}
