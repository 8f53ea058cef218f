package memory

import (
	"context"
	"time"
)

// Logger is the minimal logger interface used by the engine packages.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(msg string, args ...any) {}
func (NopLogger) Info(msg string, args ...any)  {}
func (NopLogger) Warn(msg string, args ...any)  {}
func (NopLogger) Error(msg string, args ...any) {}

// LogError logs err at the level its kind calls for: data gaps at info,
// slow upstreams at warn, bad candidates at debug and anything else at error.
func LogError(log Logger, msg string, err error, args ...any) {
	if err == nil {
		return
	}
	kind := KindOf(err)
	args = append(args, "kind", kind.String(), "error", err)
	switch kind {
	case KindDataUnavailable:
		log.Info(msg, args...)
	case KindUpstreamTimeout:
		log.Warn(msg, args...)
	case KindMalformedCandidate:
		log.Debug(msg, args...)
	default:
		log.Error(msg, args...)
	}
}

// MetricsSink receives time-series points. Writes are best effort.
type MetricsSink interface {
	Write(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error
}

// EmitAsync writes one point to sink in the background, bounded by timeout.
// A nil sink is a no-op. Write failures are handed to onErr when it is set.
func EmitAsync(sink MetricsSink, timeout time.Duration, measurement string, tags map[string]string, fields map[string]any, onErr func(error)) {
	if sink == nil {
		return
	}
	ts := time.Now()
	go func() {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := sink.Write(ctx, measurement, tags, fields, ts); err != nil && onErr != nil {
			if ctx.Err() != nil {
				err = NewError(KindUpstreamTimeout, "metrics.write", err)
			}
			onErr(err)
		}
	}()
}
