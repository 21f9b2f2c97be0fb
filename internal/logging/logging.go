// Package logging contains the logger shared by the probe and its CLI.
package logging

import (
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
)

// Logger emits structured JSON logs on the standard error, so that they
// do not interleave with the progress printed on the standard output.
var Logger = &log.Logger{
	Handler: json.New(os.Stderr),
	Level:   log.InfoLevel,
}

// SetVerbose enables or disables debug logging.
func SetVerbose(verbose bool) {
	if verbose {
		Logger.Level = log.DebugLevel
		return
	}
	Logger.Level = log.InfoLevel
}
