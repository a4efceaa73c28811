// api/schemas/recording.go
package schemas

import (
	"fmt"
	"slices"
)

// -- Recording Schemas --

// ActionName identifies the kind of a recorded interaction.
type ActionName string

const (
	ActionOpenPage      ActionName = "openPage"
	ActionClosePage     ActionName = "closePage"
	ActionNavigate      ActionName = "navigate"
	ActionClick         ActionName = "click"
	ActionFill          ActionName = "fill"
	ActionPress         ActionName = "press"
	ActionCheck         ActionName = "check"
	ActionUncheck       ActionName = "uncheck"
	ActionSelect        ActionName = "select"
	ActionSetInputFiles ActionName = "setInputFiles"
)

// Known reports whether the name is one of the action kinds the recorder understands.
func (n ActionName) Known() bool {
	switch n {
	case ActionOpenPage, ActionClosePage, ActionNavigate, ActionClick, ActionFill,
		ActionPress, ActionCheck, ActionUncheck, ActionSelect, ActionSetInputFiles:
		return true
	}
	return false
}

// Keyboard modifier bits, as sent by the in-page recorder.
const (
	ModifierAlt     = 1 << 0
	ModifierControl = 1 << 1
	ModifierMeta    = 1 << 2
	ModifierShift   = 1 << 3
)

// SignalName identifies a side effect observed after an action.
type SignalName string

const (
	SignalNavigation SignalName = "navigation"
	SignalPopup      SignalName = "popup"
	SignalDownload   SignalName = "download"
	SignalDialog     SignalName = "dialog"
)

// Signal is a side effect attached to the action that caused it.
type Signal struct {
	Name SignalName `json:"name"`
	URL  string     `json:"url,omitempty"`
}

// Action is a single recorded interaction. Name selects which of the
// remaining fields are meaningful.
type Action struct {
	Name       ActionName `json:"name"`
	Selector   string     `json:"selector,omitempty"`
	URL        string     `json:"url,omitempty"`
	Text       string     `json:"text,omitempty"`
	Key        string     `json:"key,omitempty"`
	Options    []string   `json:"options,omitempty"`
	Files      []string   `json:"files,omitempty"`
	Button     string     `json:"button,omitempty"`
	Modifiers  int        `json:"modifiers,omitempty"`
	ClickCount int        `json:"clickCount,omitempty"`
	Signals    []Signal   `json:"signals,omitempty"`
}

// Validate checks that the fields required by the action kind are present.
func (a Action) Validate() error {
	if !a.Name.Known() {
		return fmt.Errorf("unknown action %q", a.Name)
	}
	switch a.Name {
	case ActionClick, ActionFill, ActionPress, ActionCheck, ActionUncheck, ActionSelect, ActionSetInputFiles:
		if a.Selector == "" {
			return fmt.Errorf("action %q requires a selector", a.Name)
		}
	case ActionNavigate:
		if a.URL == "" {
			return fmt.Errorf("action %q requires a url", a.Name)
		}
	}
	if a.Name == ActionPress && a.Key == "" {
		return fmt.Errorf("action %q requires a key", a.Name)
	}
	return nil
}

// Clone returns a deep copy so ledger snapshots never alias live entries.
func (a Action) Clone() Action {
	a.Options = slices.Clone(a.Options)
	a.Files = slices.Clone(a.Files)
	a.Signals = slices.Clone(a.Signals)
	return a
}

// FrameRef is one hop of the ancestor chain of a frame.
type FrameRef struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// FrameDescriptor identifies the browsing context an action occurred in.
// It is a snapshot taken when the action was observed.
type FrameDescriptor struct {
	IsMainFrame bool   `json:"isMainFrame"`
	PageAlias   string `json:"pageAlias"`
	URL         string `json:"url"`
	// FramePath is ordered from the top-level frame down to the notifying frame.
	FramePath []FrameRef `json:"framePath,omitempty"`
}

// ActionInContext pairs an action with the frame it happened in.
type ActionInContext struct {
	Frame     FrameDescriptor `json:"frame"`
	Action    Action          `json:"action"`
	Committed bool            `json:"committed,omitempty"`
}

// Clone returns a deep copy of the entry.
func (a ActionInContext) Clone() ActionInContext {
	a.Action = a.Action.Clone()
	a.Frame.FramePath = slices.Clone(a.Frame.FramePath)
	return a
}

// Script is the source text generated from the full action ledger.
type Script struct {
	Language string   `json:"language"`
	Header   string   `json:"header"`
	Footer   string   `json:"footer"`
	Actions  []string `json:"actions"`
	Text     string   `json:"text"`
}

// SessionState is the lifecycle state of a recording session.
type SessionState int32

const (
	StateStarting SessionState = iota
	StateActive
	StateShuttingDown
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}
