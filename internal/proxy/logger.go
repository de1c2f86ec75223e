package proxy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omarluq/dc-relay/internal/config"
)

type ctxKey string

// RequestIDKey is the context key for request IDs.
const RequestIDKey ctxKey = "request_id"

// NewLogger builds the process logger from LoggingConfig. Output is JSON
// lines by default; the console format renders human-readable lines, colored
// when the destination is a terminal or when Pretty forces it.
func NewLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	out, file, err := openLogOutput(cfg.Output)
	if err != nil {
		return zerolog.Logger{}, err
	}

	if cfg.Format == "console" || cfg.Pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
			NoColor:    !cfg.Pretty && !isTerminal(file),
		}
	}

	return zerolog.New(out).
		Level(cfg.ParseLevel()).
		With().
		Timestamp().
		Logger(), nil
}

// openLogOutput resolves the logging destination: stdout, stderr, or an
// append-mode file.
func openLogOutput(dest string) (io.Writer, *os.File, error) {
	switch dest {
	case "", "stdout":
		return os.Stdout, os.Stdout, nil
	case "stderr":
		return os.Stderr, os.Stderr, nil
	default:
		f, err := os.OpenFile(filepath.Clean(dest), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return f, f, nil
	}
}

func isTerminal(f *os.File) bool {
	return f != nil && isatty.IsTerminal(f.Fd())
}

// AddRequestID attaches the given request ID to the context, generating a
// UUID when the client did not supply one, and tags the context logger with
// it.
func AddRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx = context.WithValue(ctx, RequestIDKey, requestID)

	logger := log.Ctx(ctx).With().Str("request_id", requestID).Logger()
	return logger.WithContext(ctx)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
