package audit

import (
	"context"
	"errors"
	"strings"

	"signalo.org/internal/auth"
	"signalo.org/internal/obs"
)

type requestIDKey struct{}

// WithRequestID attaches the request identifier to the context so every audit
// line of that request can be correlated.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// LogEvent writes one audit log line enriched with the request id and the
// authenticated user taken from the context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	line := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		line[k] = v
	}
	line["audit"] = true
	if rid := requestIDFromContext(ctx); rid != "" {
		line["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		line["user_id"] = userID
	}
	obs.Emit(event, line)
	return nil
}
