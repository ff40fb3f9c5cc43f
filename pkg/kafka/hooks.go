package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Hook runs before every delivery attempt and may enrich the handler
// context from message metadata. An error skips the handler and counts as
// a failed attempt.
type Hook func(ctx context.Context, msg kafka.Message) (context.Context, error)

// Chain runs hooks in order and stops at the first error.
func Chain(hooks ...Hook) Hook {
	return func(ctx context.Context, msg kafka.Message) (context.Context, error) {
		var err error
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if ctx, err = h(ctx, msg); err != nil {
				return ctx, err
			}
		}
		return ctx, nil
	}
}

const traceHeader = "trace_id"

type traceKey struct{}

// TraceHook copies the trace_id header onto the handler context.
func TraceHook() Hook {
	return func(ctx context.Context, msg kafka.Message) (context.Context, error) {
		if id := header(msg, traceHeader); id != "" {
			ctx = context.WithValue(ctx, traceKey{}, id)
		}
		return ctx, nil
	}
}

// TraceIDFrom returns the trace id set by TraceHook, if any.
func TraceIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(traceKey{}).(string)
	return v
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
