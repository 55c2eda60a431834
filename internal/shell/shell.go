package shell

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Shell runs an fx application until the process is signalled.
type Shell struct {
	log     *zap.Logger
	options []fx.Option
}

func New(log *zap.Logger, options ...fx.Option) *Shell {
	return &Shell{
		log:     log,
		options: options,
	}
}

// Run starts the application built from the shell's and the given options,
// blocks until a shutdown signal arrives and stops the application. The
// returned error is an *ExitError carrying the exit code.
func (s *Shell) Run(ctx context.Context, options ...fx.Option) error {
	// after run ends, flush the logger
	defer s.log.Sync()

	// the app context outlives start and stop, it is cancelled once
	// the application has been stopped
	appCtx, cancelApp := context.WithCancel(ctx)
	defer cancelApp()

	fxApp := s.createFxApp(appCtx, options...)
	if err := fxApp.Err(); err != nil {
		s.log.Error("failed to create application", zap.Error(err))
		return NewExitError(1)
	}

	startCtx, cancelStart := context.WithTimeout(ctx, fxApp.StartTimeout())
	defer cancelStart()

	if err := fxApp.Start(startCtx); err != nil {
		s.log.Error("failed to start application", zap.Error(err))
		return NewExitError(1)
	}

	// wait for a shutdown signal, by the OS or the application
	sig := <-fxApp.Wait()
	s.log.With(zap.Int("code", sig.ExitCode)).Info("shutting down")

	// stop with a fresh context, ctx may already be done
	stopCtx, cancelStop := context.WithTimeout(context.Background(), fxApp.StopTimeout())
	defer cancelStop()

	if err := fxApp.Stop(stopCtx); err != nil {
		s.log.Error("failed to stop application", zap.Error(err))
		return NewExitError(1)
	}

	return NewExitError(sig.ExitCode)
}

func (s *Shell) createFxApp(ctx context.Context, options ...fx.Option) *fx.App {
	return fx.New(
		// inject global execution context
		fx.Supply(fx.Annotate(ctx, fx.As(new(context.Context)))),

		// inject the logger
		fx.Supply(s.log),

		// use the logger also for fx' logs
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: s.log.Named("fx")}
		}),

		// provide shell options
		fx.Options(s.options...),

		// provide run options
		fx.Options(options...),
	)
}
