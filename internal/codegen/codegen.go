// Package codegen turns the action ledger into source text for a target language.
package codegen

import (
	"fmt"
	"strings"
	"sync"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-recorder/api/schemas"
)

// Synthesizer produces the current script from the full ledger snapshot.
// Implementations must be pure functions of their input.
type Synthesizer interface {
	Generate(actions []schemas.ActionInContext) (schemas.Script, error)
}

// LanguageBackend emits the statements of one target language.
type LanguageBackend interface {
	Name() string
	Header() string
	Footer() string
	// Action returns the statement for one entry. An empty string means the
	// entry produces no code.
	Action(aic schemas.ActionInContext) (string, error)
}

// Failure reports that an action could not be expressed in the target language.
type Failure struct {
	Language string
	Index    int
	Action   schemas.ActionName
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("codegen (%s): action %d (%s): %v", f.Language, f.Index, f.Action, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Engine implements Synthesizer over a LanguageBackend. Each ledger position
// keeps the last statement rendered for it, so regenerating after an amend
// only renders the entries that changed.
type Engine struct {
	backend LanguageBackend

	mu    sync.Mutex
	cache []cachedStatement
}

type cachedStatement struct {
	key  string
	stmt string
}

var _ Synthesizer = (*Engine)(nil)

// NewEngine creates an engine for the given backend.
func NewEngine(backend LanguageBackend) *Engine {
	return &Engine{backend: backend}
}

// ForLanguage returns an engine for a configured language name.
func ForLanguage(name string) (*Engine, error) {
	switch strings.ToLower(name) {
	case "javascript", "js":
		return NewEngine(JavaScript{}), nil
	case "python", "py":
		return NewEngine(Python{}), nil
	}
	return nil, fmt.Errorf("no code generator for language %q", name)
}

// Generate renders the whole ledger. It never returns a partial script.
func (e *Engine) Generate(actions []schemas.ActionInContext) (schemas.Script, error) {
	header, footer := e.backend.Header(), e.backend.Footer()
	statements := make([]string, 0, len(actions))

	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(actions); len(e.cache) > n {
		e.cache = e.cache[:n]
	} else {
		e.cache = append(e.cache, make([]cachedStatement, n-len(e.cache))...)
	}

	for i, aic := range actions {
		stmt, err := e.statementLocked(i, aic)
		if err != nil {
			return schemas.Script{}, &Failure{Language: e.backend.Name(), Index: i, Action: aic.Action.Name, Err: err}
		}
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}

	var b strings.Builder
	b.WriteString(header)
	for _, stmt := range statements {
		b.WriteString(stmt)
		b.WriteByte('\n')
	}
	b.WriteString(footer)

	return schemas.Script{
		Language: e.backend.Name(),
		Header:   header,
		Footer:   footer,
		Actions:  statements,
		Text:     b.String(),
	}, nil
}

func (e *Engine) statementLocked(i int, aic schemas.ActionInContext) (string, error) {
	// Committed is bookkeeping and does not change the emitted code.
	aic.Committed = false
	key, err := json.ConfigCompatibleWithStandardLibrary.MarshalToString(aic)
	if err != nil {
		return e.backend.Action(aic)
	}
	if e.cache[i].key == key {
		return e.cache[i].stmt, nil
	}

	stmt, err := e.backend.Action(aic)
	if err != nil {
		return "", err
	}
	e.cache[i] = cachedStatement{key: key, stmt: stmt}
	return stmt, nil
}

// indent prefixes every line of s.
func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func modifierNames(mask int) []string {
	var out []string
	if mask&schemas.ModifierAlt != 0 {
		out = append(out, "Alt")
	}
	if mask&schemas.ModifierControl != 0 {
		out = append(out, "Control")
	}
	if mask&schemas.ModifierMeta != 0 {
		out = append(out, "Meta")
	}
	if mask&schemas.ModifierShift != 0 {
		out = append(out, "Shift")
	}
	return out
}

// shortcut renders a key with its modifiers, e.g. "Control+Shift+K".
func shortcut(key string, mask int) string {
	return strings.Join(append(modifierNames(mask), key), "+")
}

func hasSignal(a schemas.Action, name schemas.SignalName) (schemas.Signal, bool) {
	for _, s := range a.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return schemas.Signal{}, false
}
