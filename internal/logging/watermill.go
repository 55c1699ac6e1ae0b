package logging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillAdapter routes watermill's logs into the global zerolog logger.
type WatermillAdapter struct {
	fields watermill.LogFields
}

var _ watermill.LoggerAdapter = (*WatermillAdapter)(nil)

func NewWatermillAdapter() *WatermillAdapter {
	return &WatermillAdapter{}
}

func (w *WatermillAdapter) event(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	return ev.Str("component", "watermill").Fields(map[string]any(w.fields.Add(fields)))
}

func (w *WatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l := Logger()
	w.event(l.Error().Err(err), fields).Msg(msg)
}

func (w *WatermillAdapter) Info(msg string, fields watermill.LogFields) {
	l := Logger()
	w.event(l.Info(), fields).Msg(msg)
}

func (w *WatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	l := Logger()
	w.event(l.Debug(), fields).Msg(msg)
}

func (w *WatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	l := Logger()
	w.event(l.Trace(), fields).Msg(msg)
}

func (w *WatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillAdapter{fields: w.fields.Add(fields)}
}
