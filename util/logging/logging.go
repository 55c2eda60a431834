package logging

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

type contextKey int

var loggerKey = contextKey(0)

var ErrNoLoggerInContext = errors.New("no logger in context")

// Options configure the process logger.
type Options struct {
	// Level is a zap level name. Unknown levels fall back to info.
	Level string

	// Format is "production" for JSON output, anything else selects the
	// human readable development encoder.
	Format string

	// App is attached to every entry.
	App string
}

// New builds the process logger.
func New(opts Options) (*zap.Logger, error) {
	var config zap.Config
	if opts.Format == "" || opts.Format == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	if opts.App != "" {
		config.InitialFields = map[string]any{
			"app": opts.App,
		}
	}

	level, err := zap.ParseAtomicLevel(opts.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config.Level = level

	return config.Build()
}

func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func LoggerFromContext(ctx context.Context) (*zap.Logger, error) {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger, nil
	}

	return nil, ErrNoLoggerInContext
}
