package qrelay

import "go.uber.org/zap"

// NewLogger builds the single process-wide logger sink described in §9:
// "the logger is a process-wide sink initialized at start, torn down at
// exit; it is the only global." Callers pass the *zap.Logger explicitly to
// every component constructor rather than reaching for a package global.
func NewLogger(daemon bool) (*zap.Logger, error) {
	if daemon {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// logError logs err with its category (if any) and the given context fields.
func logError(log *zap.Logger, msg string, err error, fields ...zap.Field) {
	cat, ok := CategoryOf(err)
	all := make([]zap.Field, 0, len(fields)+2)
	all = append(all, fields...)
	if ok {
		all = append(all, zap.String("category", cat.String()))
	}
	all = append(all, zap.Error(err))
	log.Error(msg, all...)
}
