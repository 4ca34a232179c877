package logger

import (
	"log/slog"
	"time"
)

// LogChainRead logs ledger node calls. Failures stay at warn: callers decide
// whether an unavailable node is fatal for their path.
func LogChainRead(op string, duration time.Duration, err error) {
	attrs := []any{
		slog.String("type", "chain"),
		slog.String("op", op),
		slog.Duration("took", duration),
	}

	if err != nil {
		slog.Warn("Chain read failed", append(attrs, slog.Any("error", err))...)
	} else {
		slog.Debug("Chain read", attrs...)
	}
}
