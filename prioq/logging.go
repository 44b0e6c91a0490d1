package prioq

import "go.uber.org/zap"

// loggerOrDefault mirrors feynman-go-workshop/server/prom.Instance's
// option-with-zap.L()-fallback pattern: callers that don't care about
// logging get the global no-op-until-configured logger, not a nil
// pointer they have to guard against.
func loggerOrDefault(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.L()
	}
	return l
}
