// Package log provides logging support shared by the WBEM client and
// listener: credential redaction for slog output and size-based log
// file rotation for the command-line tools.
package log

import (
	"context"
	"log/slog"
	"strings"
)

// sensitiveKeys are substrings of attribute keys whose values must not
// reach log output. Matching is case-insensitive. WBEM requests carry
// credentials in Basic and NTLM authorization material, so anything
// credential-shaped is scrubbed.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"authorization",
	"credential",
	"token",
	"ntlm",
}

const redacted = "[REDACTED]"

// RedactingHandler wraps a slog.Handler and replaces the values of
// credential-bearing attributes before they are emitted.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next with credential redaction.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	var attrs []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, redactAttr(a))
		return true
	})

	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	clean.AddAttrs(attrs...)
	return h.next.Handle(ctx, clean)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(clean)}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		clean := make([]any, len(group))
		for i, ga := range group {
			clean[i] = redactAttr(ga)
		}
		return slog.Group(a.Key, clean...)
	}

	key := strings.ToLower(a.Key)
	for _, sens := range sensitiveKeys {
		if strings.Contains(key, sens) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}
