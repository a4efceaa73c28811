// internal/browser/bindings.go
package browser

import (
	"fmt"
	"runtime/debug"

	"github.com/chromedp/cdproto/runtime"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-recorder/internal/recorder/frames"
)

// rawBindingSuffix names the CDP binding behind a page-visible function.
const rawBindingSuffix = "__cdp"

// BindingSource identifies where a page function call came from.
type BindingSource struct {
	// Frame is nil when the calling context could not be resolved.
	Frame frames.Handle
}

// BindingFunc handles a call to an exposed page function. It runs on the
// transport's event goroutine and must not block.
type BindingFunc func(src BindingSource, args []jsoniter.RawMessage)

// RawBindingName returns the name of the CDP binding for an exposed function.
func RawBindingName(name string) string {
	return name + rawBindingSuffix
}

// decodePayload splits the JSON array sent through the bridge into its arguments.
func decodePayload(payload string) ([]jsoniter.RawMessage, error) {
	var args []jsoniter.RawMessage
	if err := json.Unmarshal([]byte(payload), &args); err != nil {
		return nil, fmt.Errorf("malformed binding payload: %w", err)
	}
	return args, nil
}

type binding struct {
	name string
	fn   BindingFunc
}

// dispatchBinding resolves the source frame of a binding call and invokes its handler.
func (d *Driver) dispatchBinding(ev *runtime.EventBindingCalled) {
	d.mu.RLock()
	b, ok := d.bindings[ev.Name]
	d.mu.RUnlock()
	if !ok {
		return
	}

	args, err := decodePayload(ev.Payload)
	if err != nil {
		d.logger.Warn("Dropping binding call with undecodable payload.",
			zap.String("name", b.name), zap.Error(err))
		return
	}

	src := BindingSource{}
	if h, ok := d.frames.forContext(ev.ExecutionContextID); ok {
		src.Frame = h
	} else {
		d.logger.Debug("Binding call from an untracked execution context.",
			zap.String("name", b.name), zap.Int64("context_id", int64(ev.ExecutionContextID)))
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic during exposed function call.",
				zap.String("name", b.name),
				zap.Any("panic_reason", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	b.fn(src, args)
}
