// Package frames resolves the browsing context a recorded action came from.
package frames

import (
	"slices"

	"github.com/xkilldash9x/scalpel-recorder/api/schemas"
)

// DefaultPageAlias names the first page of a session in generated code.
const DefaultPageAlias = "page"

// Handle is a read-only view of a live frame supplied by the browser transport.
// All methods must be cheap metadata reads.
type Handle interface {
	URL() string
	Name() string
	// Parent returns nil for the top-level frame.
	Parent() Handle
	PageAlias() string
}

// Locator turns frame handles into descriptor snapshots.
type Locator struct {
	// maxDepth bounds the ancestor walk in case a transport reports a cycle.
	maxDepth int
}

// NewLocator returns a Locator with a sane ancestor depth limit.
func NewLocator() *Locator {
	return &Locator{maxDepth: 64}
}

// Describe walks from h up to the root frame and returns a descriptor of h.
// A nil handle describes an unknown top-level frame.
func (l *Locator) Describe(h Handle) schemas.FrameDescriptor {
	if h == nil {
		return schemas.FrameDescriptor{IsMainFrame: true, PageAlias: DefaultPageAlias}
	}

	chain := make([]schemas.FrameRef, 0, 4)
	for ancestor := h; ancestor != nil && len(chain) < l.maxDepth; ancestor = ancestor.Parent() {
		chain = append(chain, schemas.FrameRef{Name: ancestor.Name(), URL: ancestor.URL()})
	}
	slices.Reverse(chain)

	alias := h.PageAlias()
	if alias == "" {
		alias = DefaultPageAlias
	}

	desc := schemas.FrameDescriptor{
		IsMainFrame: h.Parent() == nil,
		PageAlias:   alias,
		URL:         h.URL(),
	}
	// The chain is only interesting for nested frames.
	if !desc.IsMainFrame {
		desc.FramePath = chain
	}
	return desc
}
