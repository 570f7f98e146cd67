package logging

import (
	"context"
	"log/slog"
	"strings"
)

// sensitiveKeys lists attribute keys whose values must never reach a
// log sink verbatim. A backend's configured AUTH password is the one
// secret this proxy ever holds, but the list stays general in case
// future admin commands carry credentials too.
var sensitiveKeys = map[string]struct{}{
	"auth":     {},
	"password": {},
	"pass":     {},
}

const redacted = "[REDACTED]"

// redactingHandler wraps a slog.Handler and replaces the value of any
// sensitive attribute before delegating to the wrapped handler.
type redactingHandler struct {
	next slog.Handler
}

func newRedactingHandler(next slog.Handler) *redactingHandler {
	return &redactingHandler{next: next}
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	redactedRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redactedRecord.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, redactedRecord)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(out)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		out := make([]any, len(group))
		for i, sub := range group {
			out[i] = redactAttr(sub)
		}
		return slog.Group(a.Key, out...)
	}
	if _, sensitive := sensitiveKeys[strings.ToLower(a.Key)]; sensitive {
		return slog.String(a.Key, redacted)
	}
	return a
}
