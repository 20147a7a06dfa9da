package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/live-voice-lab/internal/logging"
	"github.com/live-voice-lab/internal/mcp"
)

// Caller invokes a named tool and returns its text result.
// *mcp.ClientWrapper satisfies it.
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Result is the outcome of a dispatched tool call.
type Result struct {
	Tool string
	Args map[string]any
	// Data is the tool's JSON output; nil when the call failed.
	Data json.RawMessage
	Err  error
}

// OK reports whether the tool produced data.
func (r *Result) OK() bool { return r != nil && r.Err == nil && len(r.Data) > 0 }

// Prompt renders the result as a text turn the model can answer from.
func (r *Result) Prompt(question string) string {
	if !r.OK() {
		return fmt.Sprintf("[tool %s failed: %s] Tell the user the data is unavailable right now. Question: %s", r.Tool, ErrorMessage(r.Err), question)
	}
	return fmt.Sprintf("[tool %s returned %s] Using this data, answer the user's question: %s", r.Tool, r.Data, question)
}

// ErrorMessage extracts the user-facing text of a tool error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var te *mcp.ToolError
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}

// Dispatcher classifies text and calls the matching tool.
type Dispatcher struct {
	caller  Caller
	timeout time.Duration
}

// NewDispatcher returns a dispatcher; timeout bounds each call (0 = 20 s).
func NewDispatcher(c Caller, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Dispatcher{caller: c, timeout: timeout}
}

// Dispatch returns nil when text does not call for a tool.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) *Result {
	if d == nil || d.caller == nil {
		return nil
	}
	intent, ok := Classify(text)
	if !ok {
		return nil
	}
	return d.Call(ctx, intent.Tool, intent.Args)
}

// Call invokes tool directly.
func (d *Dispatcher) Call(ctx context.Context, tool string, args map[string]any) *Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	res := &Result{Tool: tool, Args: args}
	logging.DebugwCtx(ctx, "dispatching tool call", logging.ToolFields(tool, args)...)
	text, err := d.caller.CallTool(ctx, tool, args)
	if err != nil {
		res.Err = err
		logging.WarnwCtx(ctx, "tool call failed", append(logging.ToolFields(tool, args), "error", err)...)
		return res
	}
	if !json.Valid([]byte(text)) {
		res.Err = fmt.Errorf("tool %s returned non-JSON output", tool)
		return res
	}
	res.Data = json.RawMessage(text)
	return res
}
