// Package tools executes the function calls a live session receives.
//
// Two calls are session control: [ConnectToSpecialist] and [ReturnToMaster]
// yield a [Transfer] and no response, because the session is torn down before
// one could be delivered. Every other call is a state-mutation tool. Its
// arguments are parsed into a typed value, exactly one sink is invoked when
// they are usable, and exactly one [Result] is produced either way. Invalid
// arguments, unknown tools, and panicking sinks all turn into a descriptive
// result message instead of an error, so the model can react
// conversationally.
package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/parivox/internal/observe"
)

// Result messages.
const (
	MsgNoChanges     = "No changes made. Please provide valid data for at least one section."
	MsgExecError     = "Error executing tool."
	MsgResumeUpdated = "Resume visual updated successfully."
	MsgLayoutUpdated = "Layout updated successfully."
	MsgTaskAdded     = "Task added to day plan and visible to user."
)

// Status values recorded on the tool call counter.
const (
	statusOK        = "ok"
	statusNoChanges = "no_changes"
	statusError     = "error"
	statusUnknown   = "unknown"
	statusTransfer  = "transfer"
)

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMetrics records tool calls and latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher routes calls to their handlers. It is safe for concurrent use
// as long as the sinks are.
type Dispatcher struct {
	sinks   Sinks
	metrics *observe.Metrics
}

// NewDispatcher returns a Dispatcher writing to sinks.
func NewDispatcher(sinks Sinks, opts ...Option) *Dispatcher {
	d := &Dispatcher{sinks: sinks}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch handles one call.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) Outcome {
	ctx, span := observe.StartSpan(ctx, "tools.dispatch",
		attribute.String("tool", call.Name), attribute.String("call_id", call.ID))
	defer span.End()
	start := time.Now()

	if call.Name == ConnectToSpecialist || call.Name == ReturnToMaster {
		t := transferArgs(call.Name, call.Args)
		d.record(ctx, call.Name, statusTransfer, start)
		observe.Logger(ctx).Info("tools: transfer requested", "tool", call.Name, "target", t.Target, "reason", t.Reason)
		return Outcome{Transfer: t}
	}

	msg, status := d.execute(ctx, call)
	d.record(ctx, call.Name, status, start)
	span.SetAttributes(attribute.String("status", status))
	return Outcome{Response: &Result{ID: call.ID, Name: call.Name, Message: msg}}
}

// execute runs a state-mutation tool, converting a sink panic into
// [MsgExecError].
func (d *Dispatcher) execute(ctx context.Context, call Call) (msg, status string) {
	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("tools: handler panicked", "tool", call.Name, "panic", r)
			msg, status = MsgExecError, statusError
		}
	}()

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}

	switch call.Name {
	case GenerateResume:
		u, ok := resumeArgs(args)
		if !ok {
			return d.noChanges(ctx, call)
		}
		if d.sinks.Resume == nil {
			return d.missingSink(ctx, call)
		}
		d.sinks.Resume.UpdateResume(u)
		d.appendContext("[System] Resume updated. Visuals refreshed.")
		return MsgResumeUpdated, statusOK

	case UpdateResumeLayout:
		l, ok := layoutArgs(args)
		if !ok {
			return d.noChanges(ctx, call)
		}
		if d.sinks.Resume == nil {
			return d.missingSink(ctx, call)
		}
		d.sinks.Resume.UpdateResume(ResumeUpdate{Layout: &l})
		d.appendContext("[System] Resume layout rearranged.")
		return MsgLayoutUpdated, statusOK

	case LogTransaction:
		tx, ok := transactionArgs(args)
		if !ok {
			return d.noChanges(ctx, call)
		}
		if d.sinks.Ledger == nil {
			return d.missingSink(ctx, call)
		}
		d.sinks.Ledger.AddTransaction(tx)
		amt := strconv.FormatFloat(tx.Amount, 'f', -1, 64)
		d.appendContext(fmt.Sprintf("[System] Logged %s: ₹%s for %s", strings.ToUpper(tx.Type), amt, tx.Source))
		return fmt.Sprintf("Transaction logged as %s. Dashboard updated.", tx.Type), statusOK

	case AddTask:
		task := taskArgs(args)
		if d.sinks.Planner == nil {
			return d.missingSink(ctx, call)
		}
		d.sinks.Planner.AddTask(task)
		d.appendContext(fmt.Sprintf("[System] Added Task: %s at %s", task.Title, task.Time))
		return MsgTaskAdded, statusOK

	default:
		observe.Logger(ctx).Warn("tools: unknown tool", "tool", call.Name)
		return "Unknown tool: " + call.Name, statusUnknown
	}
}

func (d *Dispatcher) noChanges(ctx context.Context, call Call) (string, string) {
	observe.Logger(ctx).Debug("tools: no usable arguments", "tool", call.Name, "args", call.Args)
	return MsgNoChanges, statusNoChanges
}

func (d *Dispatcher) missingSink(ctx context.Context, call Call) (string, string) {
	observe.Logger(ctx).Error("tools: no sink configured", "tool", call.Name)
	return MsgExecError, statusError
}

func (d *Dispatcher) appendContext(line string) {
	if d.sinks.Context != nil {
		d.sinks.Context.AppendContext(line)
	}
}

func (d *Dispatcher) record(ctx context.Context, tool, status string, start time.Time) {
	if d.metrics != nil {
		d.metrics.RecordToolCall(ctx, tool, status, time.Since(start))
	}
}
