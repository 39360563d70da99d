package mascara

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a console-writer zerolog.Logger tagged with app,
// in the shape of danmuck/edgectl's internal/observability.InitLogger.
// Server and Client accept an optional Logger through their options;
// this constructor is a convenience for callers that don't already
// have one configured.
func NewLogger(app string) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(output).With().Timestamp().Str("app", app).Logger()
}
