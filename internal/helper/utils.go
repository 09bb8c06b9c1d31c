package helper

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// GenerateUUID creates a random unique UUID string
func GenerateUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %v", err)
	}
	return id.String(), nil
}

// PrettyPrint writes v as indented JSON.
func PrettyPrint(w io.Writer, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Fprintln(w, string(b))
}

// SetupLogger configures the global logger. format is "console" or "json".
func SetupLogger(w io.Writer, level, format string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if format == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()
		return nil
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Caller().Logger()
	return nil
}
