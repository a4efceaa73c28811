// internal/browser/driver_test.go
package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-recorder/internal/config"
	"github.com/xkilldash9x/scalpel-recorder/internal/recorder/frames"
)

func loadedTree() *frameTree {
	tree := newFrameTree()
	tree.load(&page.FrameTree{
		Frame: &cdp.Frame{ID: "main", URL: "https://example.com/"},
		ChildFrames: []*page.FrameTree{{
			Frame: &cdp.Frame{ID: "child", ParentID: "main", Name: "checkout", URL: "https://pay.example.com/"},
			ChildFrames: []*page.FrameTree{{
				Frame: &cdp.Frame{ID: "grandchild", ParentID: "child", URL: "https://pay.example.com/card"},
			}},
		}},
	})
	return tree
}

func chain(h frames.Handle) []string {
	var urls []string
	for cur := h; cur != nil; cur = cur.Parent() {
		urls = append(urls, cur.URL())
	}
	return urls
}

func TestFrameTree_LoadAndSnapshot(t *testing.T) {
	tree := loadedTree()

	main, ok := tree.main()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/", main.URL())
	assert.Nil(t, main.Parent())
	assert.Equal(t, frames.DefaultPageAlias, main.PageAlias())

	gc, ok := tree.snapshot("grandchild")
	require.True(t, ok)
	assert.Equal(t, []string{"https://pay.example.com/card", "https://pay.example.com/", "https://example.com/"}, chain(gc))
	assert.Equal(t, "checkout", gc.Parent().Name())
}

func TestFrameTree_SnapshotIsImmutable(t *testing.T) {
	tree := loadedTree()
	before, ok := tree.main()
	require.True(t, ok)

	isMain := tree.navigated(&cdp.Frame{ID: "main", URL: "https://example.com/next"})
	assert.True(t, isMain)

	after, ok := tree.main()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/", before.URL(), "old snapshots keep the URL they were taken with")
	assert.Equal(t, "https://example.com/next", after.URL())
}

func TestFrameTree_NavigatedChildIsNotMain(t *testing.T) {
	tree := loadedTree()
	assert.False(t, tree.navigated(&cdp.Frame{ID: "child", ParentID: "main", URL: "https://pay.example.com/2"}))
	h, ok := tree.snapshot("child")
	require.True(t, ok)
	assert.Equal(t, "https://pay.example.com/2", h.URL())
}

func TestFrameTree_SameDocumentNavigation(t *testing.T) {
	tree := loadedTree()
	tree.navigatedWithinDocument("main", "https://example.com/#/active")
	h, _ := tree.main()
	assert.Equal(t, "https://example.com/#/active", h.URL())
}

func TestFrameTree_DetachRemovesSubtreeAndContexts(t *testing.T) {
	tree := loadedTree()
	tree.contextCreated(&runtime.ExecutionContextDescription{ID: 7, AuxData: []byte(`{"frameId":"grandchild","isDefault":true,"type":"default"}`)})
	_, ok := tree.forContext(7)
	require.True(t, ok)

	tree.detached("child")

	_, ok = tree.snapshot("child")
	assert.False(t, ok)
	_, ok = tree.snapshot("grandchild")
	assert.False(t, ok)
	_, ok = tree.forContext(7)
	assert.False(t, ok)
	_, ok = tree.main()
	assert.True(t, ok)
}

func TestFrameTree_Contexts(t *testing.T) {
	tree := loadedTree()

	tree.contextCreated(&runtime.ExecutionContextDescription{ID: 1, AuxData: []byte(`{"frameId":"main","isDefault":true}`)})
	tree.contextCreated(&runtime.ExecutionContextDescription{ID: 2, AuxData: []byte(`{"frameId":"main","isDefault":false,"type":"isolated"}`)})
	tree.contextCreated(&runtime.ExecutionContextDescription{ID: 3, AuxData: []byte(`not json`)})
	tree.contextCreated(nil)

	h, ok := tree.forContext(1)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/", h.URL())

	_, ok = tree.forContext(2)
	assert.False(t, ok, "isolated worlds are not tracked")
	_, ok = tree.forContext(3)
	assert.False(t, ok)

	tree.contextDestroyed(1)
	_, ok = tree.forContext(1)
	assert.False(t, ok)

	tree.contextCreated(&runtime.ExecutionContextDescription{ID: 4, AuxData: []byte(`{"frameId":"child","isDefault":true}`)})
	tree.contextsCleared()
	_, ok = tree.forContext(4)
	assert.False(t, ok)
}

func TestFrameTree_AttachBeforeNavigate(t *testing.T) {
	tree := loadedTree()
	tree.attached("late", "main")
	tree.navigated(&cdp.Frame{ID: "late", ParentID: "main", URL: "https://ads.example.com/"})

	h, ok := tree.snapshot("late")
	require.True(t, ok)
	assert.Equal(t, []string{"https://ads.example.com/", "https://example.com/"}, chain(h))
}

func TestParseAuxData(t *testing.T) {
	aux, ok := parseAuxData([]byte(`{"frameId":"F1","isDefault":true,"type":"default"}`))
	require.True(t, ok)
	assert.Equal(t, cdp.FrameID("F1"), aux.FrameID)
	assert.True(t, aux.IsDefault)

	_, ok = parseAuxData(nil)
	assert.False(t, ok)
}

func TestDecodePayload(t *testing.T) {
	args, err := decodePayload(`[{"name":"click","selector":"#submit"},2]`)
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.JSONEq(t, `{"name":"click","selector":"#submit"}`, string(args[0]))

	_, err = decodePayload(`{"not":"an array"}`)
	assert.Error(t, err)
}

func newTestDriver(t *testing.T) *Driver {
	return &Driver{
		ctx:      context.Background(),
		logger:   zaptest.NewLogger(t),
		frames:   loadedTree(),
		bindings: make(map[string]binding),
		done:     make(chan struct{}),
	}
}

func TestDispatchBinding(t *testing.T) {
	d := newTestDriver(t)
	d.frames.contextCreated(&runtime.ExecutionContextDescription{ID: 9, AuxData: []byte(`{"frameId":"child","isDefault":true}`)})

	var gotSrc BindingSource
	var gotArgs []jsoniter.RawMessage
	d.bindings[RawBindingName("__pw_recorderPerformAction")] = binding{
		name: "__pw_recorderPerformAction",
		fn: func(src BindingSource, args []jsoniter.RawMessage) {
			gotSrc = src
			gotArgs = args
		},
	}

	d.onEvent(&runtime.EventBindingCalled{
		Name:               "__pw_recorderPerformAction__cdp",
		Payload:            `[{"name":"click","selector":"#buy"}]`,
		ExecutionContextID: 9,
	})

	require.NotNil(t, gotSrc.Frame)
	assert.Equal(t, "https://pay.example.com/", gotSrc.Frame.URL())
	require.Len(t, gotArgs, 1)

	t.Run("UnknownBindingIgnored", func(t *testing.T) {
		gotArgs = nil
		d.onEvent(&runtime.EventBindingCalled{Name: "other", Payload: `[1]`})
		assert.Nil(t, gotArgs)
	})

	t.Run("UntrackedContextHasNoFrame", func(t *testing.T) {
		d.onEvent(&runtime.EventBindingCalled{Name: "__pw_recorderPerformAction__cdp", Payload: `[1]`, ExecutionContextID: 99})
		assert.Nil(t, gotSrc.Frame)
	})

	t.Run("PanicIsRecovered", func(t *testing.T) {
		d.bindings["boom__cdp"] = binding{name: "boom", fn: func(BindingSource, []jsoniter.RawMessage) { panic("boom") }}
		assert.NotPanics(t, func() {
			d.onEvent(&runtime.EventBindingCalled{Name: "boom__cdp", Payload: `[]`})
		})
	})
}

func TestOnFrameNavigatedNotifiesListeners(t *testing.T) {
	d := newTestDriver(t)
	var seen []frames.Handle
	d.OnFrameNavigated(func(h frames.Handle) { seen = append(seen, h) })

	d.onEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "main", URL: "https://example.com/after"}})
	d.onEvent(&page.EventFrameNavigated{})

	require.Len(t, seen, 1)
	assert.Equal(t, "https://example.com/after", seen[0].URL())
	assert.Nil(t, seen[0].Parent())
	assert.Equal(t, "https://example.com/after", d.MainFrame().URL())
}

func TestDetachClosesDone(t *testing.T) {
	d := newTestDriver(t)
	d.onEvent(&page.EventFrameDetached{FrameID: "child"})
	select {
	case <-d.Done():
		t.Fatal("frame detach must not end the session")
	default:
	}

	d.markDone()
	d.markDone()
	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("Done was not closed")
	}
}

func TestInspectorEventsCloseDone(t *testing.T) {
	for name, ev := range map[string]interface{}{
		"Detached": &inspector.EventDetached{Reason: "target_closed"},
		"Crashed":  &inspector.EventTargetCrashed{},
	} {
		t.Run(name, func(t *testing.T) {
			d := newTestDriver(t)
			d.onEvent(ev)
			select {
			case <-d.Done():
			case <-time.After(time.Second):
				t.Fatal("Done was not closed")
			}
		})
	}
}

func TestNavigationListenersAddedDuringNotify(t *testing.T) {
	d := newTestDriver(t)
	calls := 0
	d.OnFrameNavigated(func(frames.Handle) {
		calls++
		// Listeners registered while notifying only see later navigations.
		d.OnFrameNavigated(func(frames.Handle) { calls++ })
	})

	d.onEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "main", URL: "https://example.com/a"}})
	assert.Equal(t, 1, calls)
	d.onEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "main", URL: "https://example.com/b"}})
	assert.Equal(t, 3, calls)
}

func TestClassify(t *testing.T) {
	d := newTestDriver(t)
	cause := errors.New("net::ERR_NAME_NOT_RESOLVED")

	err := d.classify("navigate", cause)
	var te *TransportError
	assert.False(t, errors.As(err, &te))
	assert.ErrorIs(t, err, cause)

	d.markDone()
	err = d.classify("navigate", cause)
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "navigate", te.Op)
	assert.ErrorIs(t, err, cause)
}

func TestCombineContext(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()
	caller, cancelCaller := context.WithCancel(context.Background())

	combined, cancel := combineContext(parent, caller)
	defer cancel()

	cancelCaller()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context was not cancelled with the caller")
	}
	assert.NoError(t, parent.Err())
}

func TestAllocatorOptions(t *testing.T) {
	base := allocatorOptions(config.BrowserConfig{Headless: true})
	headful := allocatorOptions(config.BrowserConfig{})
	assert.Greater(t, len(headful), len(base))

	custom := allocatorOptions(config.BrowserConfig{
		Headless: true,
		ExecPath: "/usr/bin/chromium",
		Args:     []string{"--window-size=1280,720", "disable-gpu"},
	})
	assert.Len(t, custom, len(base)+3)
}

func TestTransportError(t *testing.T) {
	assert.NoError(t, transportErr("launch", nil))
	err := transportErr("launch", context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "launch")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
