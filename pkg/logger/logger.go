package logger

import (
	"fmt"
	"log"
	"log/slog"
	"os"
)

// New returns a stdlib *log.Logger for APIs that still want one, such as
// http.Server.ErrorLog. Records are forwarded to base at error level and
// tagged with the component; without base they go to stdout with a prefix.
func New(component string, base *slog.Logger) *log.Logger {
	if base == nil {
		prefix := fmt.Sprintf("[%s] ", component)
		return log.New(os.Stdout, prefix, log.LstdFlags|log.Lshortfile)
	}
	return slog.NewLogLogger(base.With("component", component).Handler(), slog.LevelError)
}
