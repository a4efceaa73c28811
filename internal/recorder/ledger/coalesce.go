package ledger

import "github.com/xkilldash9x/scalpel-recorder/api/schemas"

// coalesce decides how next relates to the pending entry prev. It returns
// Appended when next is a distinct gesture.
func coalesce(prev, next schemas.ActionInContext) Mutation {
	if !sameFrame(prev.Frame, next.Frame) {
		return Appended
	}
	p, n := prev.Action, next.Action

	switch {
	case n.Name == schemas.ActionFill && p.Name == schemas.ActionFill:
		if n.Selector == p.Selector {
			return Amended
		}
	case n.Name == schemas.ActionClick && p.Name == schemas.ActionClick:
		if n.Selector == p.Selector && n.ClickCount > p.ClickCount {
			return Amended
		}
	case (n.Name == schemas.ActionCheck || n.Name == schemas.ActionUncheck) && p.Name == schemas.ActionClick:
		// The click that toggled a checkbox is reported before the check itself.
		if n.Selector == p.Selector {
			return Amended
		}
	case n.Name == schemas.ActionNavigate && p.Name == schemas.ActionNavigate:
		if n.URL == p.URL {
			return Ignored
		}
	}
	return Appended
}

// refinesClick reports whether next supersedes the pending click prev.
func refinesClick(prev, next schemas.ActionInContext) bool {
	return prev.Action.Name == schemas.ActionClick && coalesce(prev, next) == Amended
}

// redundantNavigation reports a navigate to the URL the committed last entry
// already landed on.
func redundantNavigation(last, next schemas.ActionInContext) bool {
	if next.Action.Name != schemas.ActionNavigate || !sameFrame(last.Frame, next.Frame) {
		return false
	}
	switch last.Action.Name {
	case schemas.ActionNavigate, schemas.ActionOpenPage:
		return last.Action.URL == next.Action.URL
	}
	return false
}

func sameFrame(a, b schemas.FrameDescriptor) bool {
	if a.PageAlias != b.PageAlias || a.IsMainFrame != b.IsMainFrame {
		return false
	}
	// Nested frames must also match by location; the main frame URL changes
	// with navigation and does not identify it.
	return a.IsMainFrame || a.URL == b.URL
}
