package base

import (
	"fmt"
	"log"
	"os"
)

// Logger is the narrow logging seam used by the record layer to report
// recovered corruption during resync, and to report invariant violations
// that indicate a programming error rather than bad input data. Neither
// method is on the codec hot path.
type Logger interface {
	Infof(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// DefaultLogger logs to the Go standard library's log package.
type DefaultLogger struct{}

// Infof implements Logger.
func (DefaultLogger) Infof(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
}

// Fatalf implements Logger.
func (DefaultLogger) Fatalf(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
	os.Exit(1)
}
