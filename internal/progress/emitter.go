// Package progress delivers pipeline events to observers: loggers, CLI
// renderers, and the HTTP event stream.
package progress

import (
	"go.uber.org/zap"

	"github.com/sells-group/devtools-research/internal/model"
)

// Emitter receives progress events. Implementations must be safe for
// concurrent use and must not block the caller for long.
type Emitter interface {
	Emit(ev model.Event)
}

// Func adapts a function to Emitter.
type Func func(ev model.Event)

func (f Func) Emit(ev model.Event) { f(ev) }

// Nop discards every event.
var Nop Emitter = Func(func(model.Event) {})

type multi []Emitter

// Multi fans each event out to every non-nil emitter, in order.
func Multi(emitters ...Emitter) Emitter {
	out := make(multi, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (m multi) Emit(ev model.Event) {
	for _, e := range m {
		e.Emit(ev)
	}
}

// Logger writes each event as a structured log line.
func Logger(log *zap.Logger) Emitter {
	return Func(func(ev model.Event) {
		fields := []zap.Field{
			zap.String("run_id", ev.RunID),
			zap.Uint64("seq", ev.Seq),
			zap.String("kind", string(ev.Kind)),
		}
		if ev.Stage != "" {
			fields = append(fields, zap.String("stage", string(ev.Stage)))
		}
		if ev.Tool != "" {
			fields = append(fields, zap.String("tool", ev.Tool), zap.String("tool_status", string(ev.ToolStatus)))
		}
		switch ev.Kind {
		case model.EventWorkflowFailed:
			log.Warn("research progress", append(fields, zap.String("reason", ev.Reason))...)
		case model.EventWorkflowFinished:
			log.Info("research progress", append(fields, zap.Int("tools", len(ev.Result.Tools)))...)
		default:
			log.Debug("research progress", fields...)
		}
	})
}
