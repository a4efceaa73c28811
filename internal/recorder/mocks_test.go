package recorder

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scalpel-recorder/api/schemas"
	"github.com/xkilldash9x/scalpel-recorder/internal/browser"
	"github.com/xkilldash9x/scalpel-recorder/internal/browser/shim"
	"github.com/xkilldash9x/scalpel-recorder/internal/codegen"
	"github.com/xkilldash9x/scalpel-recorder/internal/recorder/frames"
)

// fakeFrame is a static frames.Handle.
type fakeFrame struct {
	url    string
	name   string
	parent *fakeFrame
}

func (f *fakeFrame) URL() string  { return f.url }
func (f *fakeFrame) Name() string { return f.name }
func (f *fakeFrame) Parent() frames.Handle {
	if f.parent == nil {
		return nil
	}
	return f.parent
}
func (f *fakeFrame) PageAlias() string { return frames.DefaultPageAlias }

// fakeBrowser simulates a tab whose document loses its instrumentation on
// every navigation.
type fakeBrowser struct {
	mu           sync.Mutex
	main         *fakeFrame
	bindings     map[string]browser.BindingFunc
	navListeners []func(frames.Handle)
	done         chan struct{}
	closeOnce    sync.Once

	instrumented bool
	tagCount     int
	navigateErr  error
	exposeErr    error
	tagErr       error
	navigated    []string
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		bindings: make(map[string]browser.BindingFunc),
		done:     make(chan struct{}),
	}
}

func (b *fakeBrowser) Navigate(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.navigateErr != nil {
		return b.navigateErr
	}
	b.navigated = append(b.navigated, url)
	b.main = &fakeFrame{url: url}
	b.instrumented = false
	return nil
}

func (b *fakeBrowser) MainFrame() frames.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.main == nil {
		return nil
	}
	return b.main
}

func (b *fakeBrowser) ExposeBinding(_ context.Context, name string, fn browser.BindingFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exposeErr != nil {
		return b.exposeErr
	}
	b.bindings[name] = fn
	return nil
}

func (b *fakeBrowser) OnFrameNavigated(fn func(frames.Handle)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navListeners = append(b.navListeners, fn)
}

func (b *fakeBrowser) Done() <-chan struct{} { return b.done }

func (b *fakeBrowser) AddScriptTag(_ context.Context, content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tagErr != nil {
		return b.tagErr
	}
	b.tagCount++
	if content != "" && b.tagCount%3 == 0 {
		b.instrumented = true
	}
	return nil
}

func (b *fakeBrowser) Evaluate(_ context.Context, expression string, res interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if expression != shim.PresenceExpression {
		return errors.New("unexpected expression")
	}
	if p, ok := res.(*bool); ok {
		*p = b.instrumented
	}
	return nil
}

func (b *fakeBrowser) setTagErr(err error) {
	b.mu.Lock()
	b.tagErr = err
	b.mu.Unlock()
}

func (b *fakeBrowser) isInstrumented() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.instrumented
}

func (b *fakeBrowser) hasBinding(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.bindings[name]
	return ok
}

// navigate simulates the operator or the page replacing the top-level document.
func (b *fakeBrowser) navigate(url string) {
	b.mu.Lock()
	b.main = &fakeFrame{url: url}
	b.instrumented = false
	h := b.main
	listeners := slices.Clone(b.navListeners)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(h)
	}
}

func (b *fakeBrowser) navigateChild(url string) {
	b.mu.Lock()
	h := &fakeFrame{url: url, parent: b.main}
	listeners := slices.Clone(b.navListeners)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(h)
	}
}

func (b *fakeBrowser) call(name string, frame frames.Handle, payload ...string) {
	b.mu.Lock()
	fn := b.bindings[name]
	b.mu.Unlock()
	if fn == nil {
		panic("binding not exposed: " + name)
	}
	args := make([]jsoniter.RawMessage, len(payload))
	for i, p := range payload {
		args[i] = jsoniter.RawMessage(p)
	}
	fn(browser.BindingSource{Frame: frame}, args)
}

func (b *fakeBrowser) perform(action string) {
	b.call(BindingPerformAction, b.MainFrame(), action)
}

func (b *fakeBrowser) record(action string) {
	b.call(BindingRecordAction, b.MainFrame(), action)
}

func (b *fakeBrowser) close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// recordingSink keeps every script it was given.
type recordingSink struct {
	mu     sync.Mutex
	writes []schemas.Script
	err    error
}

func (s *recordingSink) Write(script schemas.Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, script)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *recordingSink) contains(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, script := range s.writes {
		if strings.Contains(script.Text, substr) {
			return true
		}
	}
	return false
}

func (s *recordingSink) last() schemas.Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return schemas.Script{}
	}
	return s.writes[len(s.writes)-1]
}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) Report(ctx context.Context, script schemas.Script) error {
	args := m.Called(ctx, script)
	return args.Error(0)
}

// flakySynthesizer fails whenever an action targets failOn.
type flakySynthesizer struct {
	inner interface {
		Generate([]schemas.ActionInContext) (schemas.Script, error)
	}
	failOn string
}

func (f *flakySynthesizer) Generate(actions []schemas.ActionInContext) (schemas.Script, error) {
	for i, aic := range actions {
		if aic.Action.Selector == f.failOn {
			return schemas.Script{}, &codegen.Failure{Index: i, Action: aic.Action.Name, Err: errors.New("synthesizer exploded")}
		}
	}
	return f.inner.Generate(actions)
}
