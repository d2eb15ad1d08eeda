package analysis

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Trace logs one entry per event.
type Trace struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewTrace creates a tracing analysis logging at level. A nil logger
// discards everything.
func NewTrace(logger *zap.Logger, level zapcore.Level) *Trace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trace{logger: logger, level: level}
}

func (t *Trace) OnEvent(_ context.Context, e Event) {
	ce := t.logger.Check(t.level, "event")
	if ce == nil {
		return
	}
	loc := e.Location()
	fields := []zap.Field{
		zap.String("kind", string(e.Kind())),
		zap.Int32("loc", loc.ID),
		zap.Uint32("func", loc.Func),
		zap.Int("instr", loc.Instr),
	}
	if op := Op(e); op != string(e.Kind()) {
		fields = append(fields, zap.String("op", op))
	}
	fields = append(fields, zap.Any("payload", Payload(e)))
	ce.Write(fields...)
}
