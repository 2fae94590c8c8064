package applog

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/DmitroKihtenko/cap-grpc/internal/config"
)

// NewLogger builds a plain *zerolog.Logger for general process logging from
// a LoggingConfig's console/files/level settings, independent of the
// per-(service,method) Record formatting Processor uses for API logs.
func NewLogger(cfg config.LoggingConfig) (*zerolog.Logger, error) {
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}
	for _, path := range cfg.Files {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	logger := zerolog.New(io.MultiWriter(writers...)).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	return &logger, nil
}
