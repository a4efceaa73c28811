// internal/browser/shim/shim.go
package shim

import (
	_ "embed"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
)

const (
	// ArgsPlaceholder is replaced in the bootstrap template with the JSON
	// encoded InjectedScript constructor arguments.
	ArgsPlaceholder = "/*{{RECORDER_INJECTED_ARGS}}*/"

	// Globals holding the module exports and the singleton instances.
	CoreModuleGlobal       = "__InjectedScript"
	RecorderModuleGlobal   = "__Recorder"
	CoreInstanceGlobal     = "__injectedScript"
	RecorderInstanceGlobal = "__recorder"
)

//go:embed assets/core.js
var defaultCoreSource string

//go:embed assets/recorder.js
var defaultRecorderSource string

// BootstrapTemplate constructs both singletons unless they already exist.
const BootstrapTemplate = `!globalThis.__injectedScript && (globalThis.__injectedScript = new globalThis.__InjectedScript(.../*{{RECORDER_INJECTED_ARGS}}*/));
!globalThis.__recorder && (globalThis.__recorder = new globalThis.__Recorder(globalThis.__injectedScript));`

// PresenceExpression evaluates to true when both singletons are present.
const PresenceExpression = `Boolean(globalThis.__injectedScript && globalThis.__recorder)`

// Bundle holds the two opaque instrumentation program texts.
type Bundle struct {
	Core     string
	Recorder string
}

// DefaultBundle returns the embedded instrumentation sources.
func DefaultBundle() Bundle {
	return Bundle{Core: defaultCoreSource, Recorder: defaultRecorderSource}
}

// LoadBundle reads external bundle sources. An empty path keeps the embedded
// source for that half of the bundle.
func LoadBundle(fs afero.Fs, corePath, recorderPath string) (Bundle, error) {
	b := DefaultBundle()
	read := func(path string, dst *string) error {
		if path == "" {
			return nil
		}
		expanded, err := homedir.Expand(path)
		if err != nil {
			return fmt.Errorf("failed to expand bundle path %s: %w", path, err)
		}
		data, err := afero.ReadFile(fs, expanded)
		if err != nil {
			return fmt.Errorf("failed to read bundle %s: %w", expanded, err)
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			return fmt.Errorf("bundle %s is empty", expanded)
		}
		*dst = string(data)
		return nil
	}
	if err := read(corePath, &b.Core); err != nil {
		return Bundle{}, err
	}
	if err := read(recorderPath, &b.Recorder); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

// WrapModule evaluates a CommonJS style source and publishes its exports on
// globalThis under the given name.
func WrapModule(source, global string) string {
	return fmt.Sprintf(`(() => {
  const module = {};
  %s
  globalThis.%s = module.exports;
})()`, source, global)
}

// InjectedScriptOptions are the constructor arguments of the core module.
type InjectedScriptOptions struct {
	IsUnderTest         bool
	SDKLanguage         string
	TestIDAttributeName string
	StableRafCount      int
	BrowserName         string
}

// DefaultInjectedScriptOptions mirrors what a Chromium recording session passes.
func DefaultInjectedScriptOptions(language string) InjectedScriptOptions {
	return InjectedScriptOptions{
		IsUnderTest:         true,
		SDKLanguage:         language,
		TestIDAttributeName: "data-testid",
		StableRafCount:      0,
		BrowserName:         "chromium",
	}
}

// BuildBootstrap renders the template with the encoded constructor arguments.
func BuildBootstrap(template string, opts InjectedScriptOptions) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template is empty")
	}
	if !strings.Contains(template, ArgsPlaceholder) {
		return "", fmt.Errorf("template does not contain the required placeholder: %s", ArgsPlaceholder)
	}

	args := []interface{}{opts.IsUnderTest, opts.SDKLanguage, opts.TestIDAttributeName, opts.StableRafCount, opts.BrowserName, []string{}}
	encoded, err := json.ConfigCompatibleWithStandardLibrary.MarshalToString(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode injected script arguments: %w", err)
	}
	return strings.Replace(template, ArgsPlaceholder, encoded, 1), nil
}

// BindingBridge defines globalThis[name] as a function that forwards its
// JSON encoded arguments to the raw CDP binding. Running it twice is harmless.
func BindingBridge(name, raw string) string {
	n, _ := json.ConfigCompatibleWithStandardLibrary.MarshalToString(name)
	r, _ := json.ConfigCompatibleWithStandardLibrary.MarshalToString(raw)
	return fmt.Sprintf(`(() => {
  const raw = globalThis[%[2]s];
  if (typeof raw !== 'function' || (globalThis[%[1]s] && globalThis[%[1]s].__bridged)) return;
  const fn = (...args) => { raw(JSON.stringify(args)); return Promise.resolve(); };
  fn.__bridged = true;
  Object.defineProperty(globalThis, %[1]s, { value: fn, configurable: true, writable: true });
})()`, n, r)
}

// ScriptTag renders an expression that runs content through a <script>
// element, failing when the document cannot take one yet.
func ScriptTag(content string) string {
	quoted, _ := json.ConfigCompatibleWithStandardLibrary.MarshalToString(content)
	return fmt.Sprintf(`(() => {
  const parent = document.head || document.documentElement;
  if (!parent) throw new Error('document is not ready for script injection');
  const script = document.createElement('script');
  script.textContent = %s;
  parent.appendChild(script);
  script.remove();
  return true;
})()`, quoted)
}
