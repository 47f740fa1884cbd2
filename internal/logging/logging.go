// Package logging configures the process-wide phuslu logger.
package logging

import (
	"os"

	"github.com/phuslu/log"
)

// Setup replaces log.DefaultLogger. format is "console" or "json".
func Setup(level, format string) {
	logger := log.Logger{
		Level:      log.ParseLevel(level),
		Caller:     1,
		TimeFormat: "2006-01-02 15:04:05",
	}
	if format == "json" {
		logger.TimeFormat = ""
		logger.Writer = &log.IOWriter{Writer: os.Stderr}
	} else {
		logger.Writer = &log.ConsoleWriter{
			ColorOutput:    log.IsTerminal(os.Stderr.Fd()),
			QuoteString:    true,
			EndWithMessage: true,
		}
	}
	log.DefaultLogger = logger
}
