// internal/browser/frametree.go
package browser

import (
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-recorder/internal/recorder/frames"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// frameNode is the live state of one frame in the tab.
type frameNode struct {
	id       cdp.FrameID
	parentID cdp.FrameID
	name     string
	url      string
}

// frameSnapshot is an immutable copy of a frame and its ancestors taken at
// the moment an event was observed.
type frameSnapshot struct {
	name   string
	url    string
	parent *frameSnapshot
}

func (f *frameSnapshot) URL() string  { return f.url }
func (f *frameSnapshot) Name() string { return f.name }

func (f *frameSnapshot) Parent() frames.Handle {
	if f.parent == nil {
		return nil
	}
	return f.parent
}

func (f *frameSnapshot) PageAlias() string { return frames.DefaultPageAlias }

// frameTree tracks the frames of the tab and which execution context
// belongs to which frame.
type frameTree struct {
	mu       sync.RWMutex
	mainID   cdp.FrameID
	nodes    map[cdp.FrameID]*frameNode
	contexts map[runtime.ExecutionContextID]cdp.FrameID
}

func newFrameTree() *frameTree {
	return &frameTree{
		nodes:    make(map[cdp.FrameID]*frameNode),
		contexts: make(map[runtime.ExecutionContextID]cdp.FrameID),
	}
}

// load replaces the tracked frames with the tree reported by page.getFrameTree.
func (t *frameTree) load(tree *page.FrameTree) {
	if tree == nil || tree.Frame == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = make(map[cdp.FrameID]*frameNode)
	t.mainID = tree.Frame.ID
	var walk func(*page.FrameTree)
	walk = func(n *page.FrameTree) {
		if n == nil || n.Frame == nil {
			return
		}
		t.upsertLocked(n.Frame)
		for _, child := range n.ChildFrames {
			walk(child)
		}
	}
	walk(tree)
}

// navigated records a committed navigation and reports whether the frame is
// the main frame.
func (t *frameTree) navigated(f *cdp.Frame) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f.ParentID == "" {
		t.mainID = f.ID
	}
	t.upsertLocked(f)
	return f.ID == t.mainID
}

// navigatedWithinDocument updates the URL after a same-document navigation.
func (t *frameTree) navigatedWithinDocument(id cdp.FrameID, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[id]; ok {
		n.url = url
	}
}

func (t *frameTree) attached(id, parentID cdp.FrameID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[id]; ok {
		n.parentID = parentID
		return
	}
	t.nodes[id] = &frameNode{id: id, parentID: parentID}
}

// detached forgets a frame and all of its descendants.
func (t *frameTree) detached(id cdp.FrameID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(id)
}

func (t *frameTree) removeLocked(id cdp.FrameID) {
	delete(t.nodes, id)
	for childID, n := range t.nodes {
		if n.parentID == id {
			t.removeLocked(childID)
		}
	}
	for ctxID, frameID := range t.contexts {
		if frameID == id {
			delete(t.contexts, ctxID)
		}
	}
}

// contextCreated binds an execution context to its frame. Only the default
// world of a frame is tracked.
func (t *frameTree) contextCreated(desc *runtime.ExecutionContextDescription) {
	if desc == nil {
		return
	}
	aux, ok := parseAuxData(desc.AuxData)
	if !ok || !aux.IsDefault || aux.FrameID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contexts[desc.ID] = aux.FrameID
}

func (t *frameTree) contextDestroyed(id runtime.ExecutionContextID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.contexts, id)
}

func (t *frameTree) contextsCleared() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contexts = make(map[runtime.ExecutionContextID]cdp.FrameID)
}

// forContext returns a snapshot of the frame owning the execution context.
func (t *frameTree) forContext(id runtime.ExecutionContextID) (frames.Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	frameID, ok := t.contexts[id]
	if !ok {
		return nil, false
	}
	return t.snapshotLocked(frameID)
}

func (t *frameTree) snapshot(id cdp.FrameID) (frames.Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked(id)
}

func (t *frameTree) main() (frames.Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked(t.mainID)
}

func (t *frameTree) upsertLocked(f *cdp.Frame) {
	n, ok := t.nodes[f.ID]
	if !ok {
		n = &frameNode{id: f.ID}
		t.nodes[f.ID] = n
	}
	n.parentID = f.ParentID
	n.name = f.Name
	n.url = f.URL
	if f.URLFragment != "" {
		n.url += f.URLFragment
	}
}

func (t *frameTree) snapshotLocked(id cdp.FrameID) (frames.Handle, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	root := &frameSnapshot{name: n.name, url: n.url}
	cur := root
	seen := map[cdp.FrameID]bool{id: true}
	for pid := n.parentID; pid != ""; {
		p, ok := t.nodes[pid]
		if !ok || seen[pid] {
			break
		}
		seen[pid] = true
		cur.parent = &frameSnapshot{name: p.name, url: p.url}
		cur = cur.parent
		pid = p.parentID
	}
	return root, true
}

type auxData struct {
	FrameID   cdp.FrameID `json:"frameId"`
	IsDefault bool        `json:"isDefault"`
	Type      string      `json:"type"`
}

func parseAuxData(raw []byte) (auxData, bool) {
	var aux auxData
	if len(raw) == 0 {
		return aux, false
	}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return aux, false
	}
	return aux, true
}
