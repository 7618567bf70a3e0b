package util

import (
	"fmt"

	"github.com/pion/logging"
)

// NewLoggerFactory returns a pion LoggerFactory that routes library logs
// through the pterm logger. Trace output is folded into debug. Info-level
// chatter from pion is demoted to debug unless verbose is set.
func NewLoggerFactory(verbose bool) logging.LoggerFactory {
	return &loggerFactory{verbose: verbose}
}

type loggerFactory struct {
	verbose bool
}

func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{scope: scope, verbose: f.verbose}
}

// scopedLogger prefixes every line with the pion scope, e.g. "[dtls] ...".
type scopedLogger struct {
	scope   string
	verbose bool
}

func (l *scopedLogger) line(format string, args ...interface{}) string {
	return fmt.Sprintf("[%s] %s", l.scope, fmt.Sprintf(format, args...))
}

func (l *scopedLogger) Trace(msg string)                          { LogDebug("%s", l.line("%s", msg)) }
func (l *scopedLogger) Tracef(format string, args ...interface{}) { LogDebug("%s", l.line(format, args...)) }
func (l *scopedLogger) Debug(msg string)                          { LogDebug("%s", l.line("%s", msg)) }
func (l *scopedLogger) Debugf(format string, args ...interface{}) { LogDebug("%s", l.line(format, args...)) }

func (l *scopedLogger) Info(msg string) { l.Infof("%s", msg) }

func (l *scopedLogger) Infof(format string, args ...interface{}) {
	if l.verbose {
		LogInfo("%s", l.line(format, args...))
		return
	}
	LogDebug("%s", l.line(format, args...))
}

func (l *scopedLogger) Warn(msg string)                          { LogWarning("%s", l.line("%s", msg)) }
func (l *scopedLogger) Warnf(format string, args ...interface{}) { LogWarning("%s", l.line(format, args...)) }
func (l *scopedLogger) Error(msg string)                          { LogError("%s", l.line("%s", msg)) }
func (l *scopedLogger) Errorf(format string, args ...interface{}) { LogError("%s", l.line(format, args...)) }
