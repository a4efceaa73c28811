// Package recorder runs a recording session: it turns instrumentation
// notifications into ledger entries, keeps the generated script current and
// delivers the final artifact exactly once.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-recorder/api/schemas"
	"github.com/xkilldash9x/scalpel-recorder/internal/browser"
	"github.com/xkilldash9x/scalpel-recorder/internal/browser/shim"
	"github.com/xkilldash9x/scalpel-recorder/internal/codegen"
	"github.com/xkilldash9x/scalpel-recorder/internal/config"
	"github.com/xkilldash9x/scalpel-recorder/internal/recorder/frames"
	"github.com/xkilldash9x/scalpel-recorder/internal/recorder/instrument"
	"github.com/xkilldash9x/scalpel-recorder/internal/recorder/ledger"
	"github.com/xkilldash9x/scalpel-recorder/internal/reporting"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Names of the functions the in-page recorder calls.
const (
	BindingPerformAction  = "__pw_recorderPerformAction"
	BindingRecordAction   = "__pw_recorderRecordAction"
	BindingSetSelector    = "__pw_recorderSetSelector"
	BindingState          = "__pw_recorderState"
	BindingRefreshOverlay = "__pw_refreshOverlay"
)

const (
	defaultEventBuffer     = 256
	defaultShutdownTimeout = 15 * time.Second
	retryTick              = time.Second
)

// Browser is the part of the browser transport a session drives.
type Browser interface {
	instrument.Document
	Navigate(ctx context.Context, url string) error
	MainFrame() frames.Handle
	ExposeBinding(ctx context.Context, name string, fn browser.BindingFunc) error
	OnFrameNavigated(fn func(frames.Handle))
	Done() <-chan struct{}
}

// Sink receives every regenerated script and the final one.
type Sink interface {
	Write(script schemas.Script) error
}

// Deps are the collaborators of a session.
type Deps struct {
	Browser     Browser
	Synthesizer codegen.Synthesizer
	Sink        Sink
	Reporter    reporting.Reporter
	Bundle      shim.Bundle
	Config      config.RecorderConfig
	// Out receives the final script.
	Out io.Writer
	// Live, when set, redraws the script after every regeneration.
	Live   *LiveView
	Logger *zap.Logger
}

type eventKind int

const (
	eventPerform eventKind = iota
	eventRecord
	eventNavigated
	eventRetry
)

func (k eventKind) String() string {
	switch k {
	case eventPerform:
		return "perform"
	case eventRecord:
		return "record"
	case eventNavigated:
		return "navigated"
	case eventRetry:
		return "retry"
	}
	return "unknown"
}

type event struct {
	kind   eventKind
	frame  frames.Handle
	action schemas.Action
}

// Session is a single recording session.
type Session struct {
	id        string
	deps      Deps
	cfg       config.RecorderConfig
	logger    *zap.Logger
	locator   *frames.Locator
	ledger    *ledger.Ledger
	installer *instrument.Installer

	events     chan event
	retryEvery time.Duration
	state      atomic.Int32
	script     atomic.Pointer[schemas.Script]

	// mu serializes event handling against the final delivery.
	mu         sync.Mutex
	started    atomic.Bool
	terminated chan struct{}
}

// New wires a session. Nothing touches the browser until Run.
func New(deps Deps) (*Session, error) {
	if deps.Browser == nil || deps.Synthesizer == nil {
		return nil, errors.New("recorder session requires a browser and a synthesizer")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Reporter == nil {
		deps.Reporter = reporting.NopReporter{}
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	cfg := deps.Config
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	id := uuid.NewString()
	logger := deps.Logger.Named("recorder").With(zap.String("session_id", id))

	installer, err := instrument.New(deps.Browser, deps.Bundle, shim.DefaultInjectedScriptOptions(cfg.Language),
		instrument.Options{Attempts: cfg.InstallAttempts, Interval: cfg.InstallInterval}, logger)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:         id,
		deps:       deps,
		cfg:        cfg,
		logger:     logger,
		locator:    frames.NewLocator(),
		ledger:     ledger.New(),
		installer:  installer,
		events:     make(chan event, cfg.EventBuffer),
		retryEvery: retryTick,
		terminated: make(chan struct{}),
	}
	s.state.Store(int32(schemas.StateStarting))
	s.script.Store(&schemas.Script{Language: cfg.Language})
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() schemas.SessionState {
	return schemas.SessionState(s.state.Load())
}

// Script returns the most recently generated script.
func (s *Session) Script() schemas.Script {
	return *s.script.Load()
}

// Actions returns a copy of the ledger.
func (s *Session) Actions() []schemas.ActionInContext {
	return s.ledger.Current()
}

// Done is closed once the session reached Terminated.
func (s *Session) Done() <-chan struct{} {
	return s.terminated
}

// Run starts the session and processes notifications until ctx is cancelled
// or the browser goes away. The final artifact is delivered before Run
// returns. Only transport failures are returned as errors.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("recorder session already started")
	}
	if s.State() != schemas.StateStarting {
		return nil
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if serr := s.Shutdown(shutdownCtx); serr != nil {
			s.logger.Warn("Shutdown did not complete cleanly.", zap.Error(serr))
		}
	}()

	if err := s.start(ctx); err != nil {
		return err
	}
	if !s.state.CompareAndSwap(int32(schemas.StateStarting), int32(schemas.StateActive)) {
		return nil
	}
	s.logger.Info("Recording started. Interact with the browser; close it or press Ctrl+C to finish.")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return s.loop(gctx)
	})
	g.Go(func() error {
		s.retryLoop(gctx)
		return nil
	})
	return g.Wait()
}

// start performs the Starting phase.
func (s *Session) start(ctx context.Context) error {
	b := s.deps.Browser

	navCtx := ctx
	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		defer cancel()
	}
	if err := b.Navigate(navCtx, s.cfg.TargetURL); err != nil {
		if isTransport(err) {
			return err
		}
		s.logger.Warn("Initial navigation did not complete. Recording continues.",
			zap.String("url", s.cfg.TargetURL), zap.Error(err))
	}

	bindings := []struct {
		name string
		fn   browser.BindingFunc
	}{
		{BindingPerformAction, s.actionBinding(eventPerform)},
		{BindingRecordAction, s.actionBinding(eventRecord)},
		{BindingSetSelector, ignoreBinding},
		{BindingState, ignoreBinding},
		{BindingRefreshOverlay, ignoreBinding},
	}
	for _, bd := range bindings {
		if err := b.ExposeBinding(ctx, bd.name, bd.fn); err != nil {
			if isTransport(err) {
				return err
			}
			return &browser.TransportError{Op: "expose " + bd.name, Err: err}
		}
	}
	b.OnFrameNavigated(func(h frames.Handle) {
		s.enqueue(event{kind: eventNavigated, frame: h})
	})

	if err := s.installer.Ensure(ctx); err != nil {
		s.logger.Warn("Instrumentation not installed yet. Will retry.", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != schemas.StateStarting {
		return nil
	}
	main := b.MainFrame()
	desc := s.locator.Describe(main)
	url := desc.URL
	if url == "" {
		url = s.cfg.TargetURL
		desc.URL = url
	}
	s.ledger.Seed(schemas.ActionInContext{
		Frame:  desc,
		Action: schemas.Action{Name: schemas.ActionOpenPage, URL: url},
	})
	s.regenerateLocked()
	return nil
}

func ignoreBinding(browser.BindingSource, []jsoniter.RawMessage) {}

// actionBinding decodes an action notification and queues it.
func (s *Session) actionBinding(kind eventKind) browser.BindingFunc {
	return func(src browser.BindingSource, args []jsoniter.RawMessage) {
		if len(args) == 0 {
			s.logger.Warn("Action notification without payload.", zap.Stringer("kind", kind))
			return
		}
		var action schemas.Action
		if err := json.Unmarshal(args[0], &action); err != nil {
			s.logger.Warn("Could not decode action notification.", zap.Stringer("kind", kind), zap.Error(err))
			return
		}
		if err := action.Validate(); err != nil {
			s.logger.Warn("Dropping invalid action.", zap.Stringer("kind", kind), zap.Error(err))
			return
		}
		frame := src.Frame
		if frame == nil {
			frame = s.deps.Browser.MainFrame()
		}
		s.enqueue(event{kind: kind, frame: frame, action: action})
	}
}

// enqueue hands an event to the loop without blocking the transport.
func (s *Session) enqueue(ev event) {
	if s.State() >= schemas.StateShuttingDown {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Error("Event buffer full. Dropping notification.", zap.Stringer("kind", ev.kind))
	}
}

func (s *Session) loop(ctx context.Context) error {
	done := s.deps.Browser.Done()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Recording interrupted.")
			return nil
		case <-done:
			s.logger.Info("Browser closed. Finishing recording.")
			return nil
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

// retryLoop nudges the loop while instrumentation is missing.
func (s *Session) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.retryEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.installer.Pending() {
				s.enqueue(event{kind: eventRetry})
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, ev event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != schemas.StateActive {
		return
	}

	switch ev.kind {
	case eventPerform:
		s.recordLocked(ev, s.ledger.RecordGesture)
	case eventRecord:
		s.recordLocked(ev, s.ledger.Record)
	case eventNavigated:
		s.navigatedLocked(ctx, ev.frame)
	case eventRetry:
		if s.installer.Pending() {
			s.ensureLocked(ctx)
		}
	}
}

func (s *Session) recordLocked(ev event, apply func(schemas.ActionInContext) ledger.Mutation) {
	aic := schemas.ActionInContext{
		Frame:  s.locator.Describe(ev.frame),
		Action: ev.action,
	}
	m := apply(aic)
	s.logger.Debug("Action observed.",
		zap.Stringer("kind", ev.kind),
		zap.String("action", string(ev.action.Name)),
		zap.String("selector", ev.action.Selector),
		zap.Stringer("mutation", m))
	if m != ledger.Ignored {
		s.regenerateLocked()
	}
}

// navigatedLocked handles a committed navigation. Top-level navigations are
// attributed to the pending gesture that caused them, or recorded as an
// explicit navigate, and the new document is instrumented again.
func (s *Session) navigatedLocked(ctx context.Context, h frames.Handle) {
	if h == nil || h.Parent() != nil {
		return
	}
	desc := s.locator.Describe(h)
	sig := schemas.Signal{Name: schemas.SignalNavigation, URL: desc.URL}

	var changed bool
	if s.causedByPending(desc.PageAlias) {
		changed = s.ledger.Signal(desc.PageAlias, sig)
	} else {
		changed = s.ledger.Record(schemas.ActionInContext{
			Frame:  desc,
			Action: schemas.Action{Name: schemas.ActionNavigate, URL: desc.URL},
		}) != ledger.Ignored
	}
	if changed {
		s.regenerateLocked()
	}

	s.installer.Invalidate()
	s.ensureLocked(ctx)
}

// causedByPending reports whether the pending entry is a gesture that can
// trigger a navigation and has not been credited with one yet.
func (s *Session) causedByPending(pageAlias string) bool {
	entries := s.ledger.Current()
	if len(entries) == 0 {
		return false
	}
	last := entries[len(entries)-1]
	if last.Committed || last.Frame.PageAlias != pageAlias {
		return false
	}
	switch last.Action.Name {
	case schemas.ActionClick, schemas.ActionPress, schemas.ActionCheck, schemas.ActionUncheck, schemas.ActionSelect:
	default:
		return false
	}
	for _, sig := range last.Action.Signals {
		if sig.Name == schemas.SignalNavigation {
			return false
		}
	}
	return true
}

func (s *Session) ensureLocked(ctx context.Context) {
	if err := s.installer.Ensure(ctx); err != nil {
		s.logger.Warn("Instrumentation install failed. Will retry.", zap.Error(err))
	}
}

// regenerateLocked rebuilds the script from the ledger. A failed generation
// keeps the previous script and drops the mutation that caused it.
func (s *Session) regenerateLocked() {
	script, err := s.deps.Synthesizer.Generate(s.ledger.Current())
	if err != nil {
		// The ledger generated fine before the latest mutation, so revert it
		// or every later regeneration fails the same way.
		reverted := s.ledger.Undo()
		fields := []zap.Field{zap.Bool("action_dropped", reverted), zap.Error(err)}
		var f *codegen.Failure
		if errors.As(err, &f) {
			fields = append(fields, zap.Int("index", f.Index), zap.String("action", string(f.Action)))
		}
		s.logger.Error("Code generation failed. Keeping the previous script.", fields...)
		return
	}
	s.script.Store(&script)
	s.persist(script)
	s.deps.Live.Render(script.Text)
}

func (s *Session) persist(script schemas.Script) {
	if s.deps.Sink == nil {
		return
	}
	if err := s.deps.Sink.Write(script); err != nil {
		s.logger.Warn("Could not persist the script. Recording continues.", zap.Error(err))
	}
}

// Shutdown delivers the final artifact: one artifact write, one completion
// report and the script on the operator output. Only the first call does
// the work; later callers wait for it to finish or for ctx to end.
func (s *Session) Shutdown(ctx context.Context) error {
	if !s.beginShutdown() {
		select {
		case <-s.terminated:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer close(s.terminated)
	defer s.state.Store(int32(schemas.StateTerminated))

	// Wait for the event being handled, if any.
	s.mu.Lock()
	defer s.mu.Unlock()

	script := s.Script()
	s.deps.Live.Clear()
	if s.ledger.Len() == 0 {
		s.logger.Warn("Nothing was recorded. Skipping artifact delivery.")
		return nil
	}
	s.persist(script)

	if err := s.deps.Reporter.Report(ctx, script); err != nil {
		s.logger.Error("Failed to save script.", zap.Error(err))
	}

	if _, err := fmt.Fprintf(s.deps.Out, "Generated Code:\n%s", script.Text); err != nil {
		s.logger.Warn("Could not print the final script.", zap.Error(err))
	}
	s.logger.Info("Recording finished.", zap.Int("actions", s.ledger.Len()))
	return nil
}

func (s *Session) beginShutdown() bool {
	for {
		cur := s.state.Load()
		if cur >= int32(schemas.StateShuttingDown) {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(schemas.StateShuttingDown)) {
			return true
		}
	}
}

func isTransport(err error) bool {
	var te *browser.TransportError
	return errors.As(err, &te)
}
