package mq

import (
	watermill "github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// watermillLogger 把 watermill 日志写入 zerolog.
// watermill 的 Info 按订阅与 handler 粒度输出，这里记为 Debug.
type watermillLogger struct {
	l zerolog.Logger
}

func newWatermillLogger(base *zerolog.Logger, mqType string) *watermillLogger {
	return &watermillLogger{l: base.With().Str("component", "mq").Str("mq", mqType).Logger()}
}

func (w *watermillLogger) emit(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	if fields != nil {
		ev = ev.Fields(map[string]any(fields))
	}

	ev.Msg(msg)
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.emit(w.l.Error().Err(err), msg, fields)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.emit(w.l.Debug(), msg, fields)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.emit(w.l.Trace(), msg, fields)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.emit(w.l.Trace(), msg, fields)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{l: w.l.With().Fields(map[string]any(fields)).Logger()}
}
