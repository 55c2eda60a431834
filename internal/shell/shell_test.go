package shell_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/arach/talkie-sub016/internal/shell"
	"github.com/stretchr/testify/assert"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, shell.ExitCode(nil))
	assert.Equal(t, 0, shell.ExitCode(shell.NewExitError(0)))
	assert.Equal(t, 3, shell.ExitCode(shell.NewExitError(3)))
	assert.Equal(t, 3, shell.ExitCode(fmt.Errorf("serve: %w", shell.NewExitError(3))))
	assert.Equal(t, 1, shell.ExitCode(errors.New("boom")))
}

func TestShell_Run_ShutsDownWithExitCode(t *testing.T) {
	var stopped bool

	s := shell.New(zap.NewNop())

	err := s.Run(context.Background(), fx.Invoke(func(lc fx.Lifecycle, shutdowner fx.Shutdowner) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go shutdowner.Shutdown(fx.ExitCode(4))
				return nil
			},
			OnStop: func(context.Context) error {
				stopped = true
				return nil
			},
		})
	}))

	assert.Equal(t, 4, shell.ExitCode(err))
	assert.True(t, stopped)
}

func TestShell_Run_StartFailure(t *testing.T) {
	s := shell.New(zap.NewNop())

	err := s.Run(context.Background(), fx.Invoke(func() error {
		return errors.New("no config")
	}))

	assert.Equal(t, 1, shell.ExitCode(err))
}

func TestShell_Run_SuppliesContext(t *testing.T) {
	type key struct{}

	ctx := context.WithValue(context.Background(), key{}, "value")

	var got any
	s := shell.New(zap.NewNop())

	s.Run(ctx, fx.Invoke(func(ctx context.Context, lc fx.Lifecycle, shutdowner fx.Shutdowner) {
		got = ctx.Value(key{})
		lc.Append(fx.StartHook(func() {
			go shutdowner.Shutdown()
		}))
	}))

	assert.Equal(t, "value", got)
}
