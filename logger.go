package hublink

import (
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// StructuredLogger is the simplest logging interface for structured logging.
// See github.com/go-kit/log
type StructuredLogger interface {
	Log(keyVals ...interface{}) error
}

// Log key names used throughout the package.
const (
	evt   = "event"
	msg   = "message"
	react = "reaction"
)

func defaultLoggers() (info StructuredLogger, dbg StructuredLogger) {
	return buildInfoDebugLogger(log.NewLogfmtLogger(os.Stderr), false)
}

func buildInfoDebugLogger(logger log.Logger, debug bool) (log.Logger, log.Logger) {
	if debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return level.Info(logger), log.With(level.Debug(logger), "caller", log.DefaultCaller)
}

func (s *service) prefixLoggers(connectionID string) (info StructuredLogger, dbg StructuredLogger) {
	return log.WithPrefix(s.info, "ts", log.DefaultTimestampUTC, "class", "Service", "connection", connectionID),
		log.WithPrefix(s.dbg, "ts", log.DefaultTimestampUTC, "class", "Service", "connection", connectionID)
}

func fmtMsg(message interface{}) string {
	return fmt.Sprintf("%v", message)
}
