package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/arach/talkie-sub016/config"
	"github.com/arach/talkie-sub016/internal/shell"
	"github.com/arach/talkie-sub016/util/conf"
	"github.com/arach/talkie-sub016/util/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var errNoCommand = errors.New("no pod command configured, set --command or PODD_PODS__CMD")

var (
	appName  = "podd"
	appUsage = `Supervises capability pods: long lived worker processes
that load a model once and answer requests over a line
delimited JSON protocol on stdio.`
	rootApp = &cli.App{
		Name:            appName,
		Usage:           appUsage,
		HideHelpCommand: true,
		Flags: []cli.Flag{
			// general flags
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "set the log level. Options: debug, info, warn, error, panic, fatal.",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "set the log format. Options: production, development.",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.PathFlag{
				Name:    "config",
				Usage:   "path to a JSON config file.",
				EnvVars: []string{"PODD_CONFIG"},
			},
			&cli.PathFlag{
				Name:    "env-file",
				Usage:   "path to a dotenv file with PODD_ prefixed settings.",
				EnvVars: []string{"PODD_ENV_FILE"},
			},
			// pod flags
			&cli.StringFlag{
				Name:     "command",
				Usage:    "the pod executable. It is invoked as <command> <args...> <capability> <config-json>.",
				Aliases:  []string{"c"},
				Category: "pod",
			},
			&cli.StringSliceFlag{
				Name:     "arg",
				Usage:    "additional arguments to pass to the pod executable.",
				Aliases:  []string{"a"},
				Category: "pod",
			},
			&cli.PathFlag{
				Name:     "cwd",
				Usage:    "the working directory of pods.",
				Category: "pod",
			},
			&cli.DurationFlag{
				Name:     "ready-timeout",
				Usage:    "how long to wait for a pod to report ready.",
				Category: "pod",
			},
			&cli.DurationFlag{
				Name:     "stop-timeout",
				Usage:    "how long to wait for a pod to exit after SIGTERM, before SIGKILL.",
				Category: "pod",
			},
			&cli.IntFlag{
				Name:     "max-spawns",
				Usage:    "the maximum number of pods loading at the same time. 0 means unbounded.",
				Category: "pod",
			},
			&cli.DurationFlag{
				Name:     "idle-timeout",
				Usage:    "kill pods that have not been used for this long. 0 disables.",
				Category: "pod",
			},
		},
		Before: func(ctx *cli.Context) error {
			// create the logger
			log, err := logging.New(logging.Options{
				Level:  ctx.String("log-level"),
				Format: ctx.String("log-format"),
				App:    appName,
			})
			if err != nil {
				return err
			}

			// inject logger into cli context
			ctx.Context = logging.ContextWithLogger(ctx.Context, log)

			return nil
		},
		After: func(ctx *cli.Context) error {
			log, err := logging.LoggerFromContext(ctx.Context)
			if err != nil {
				return err
			}

			log.Sync()

			return nil
		},
	}
)

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:               "version",
		Usage:              "print the version",
		DisableDefaultText: true,
	}
}

type ExecuteParams struct {
	Version  string
	Compiled time.Time
}

func Execute(params ExecuteParams) int {
	rootApp.Version = params.Version
	rootApp.Compiled = params.Compiled

	return run(context.Background(), os.Args)
}

func run(ctx context.Context, args []string) int {
	err := rootApp.RunContext(ctx, args)

	code := shell.ExitCode(err)

	// the shell has logged why it exited
	if err != nil && !shell.IsExitError(err) {
		fmt.Fprintf(os.Stderr, "exit error: %s\n", err.Error())
	}

	return code
}

// loadConfig parses the config for the running command. Flags set on the
// command line override the environment, which overrides the env file and
// the config file.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return config.Config{}, err
	}

	cfg, err := conf.Parse[config.Config](conf.ParseOptions{
		Cli:         ctx,
		CliMap:      config.CliMap,
		Defaults:    config.DefaultConfig,
		EnvPrefix:   config.EnvPrefix,
		FileName:    ctx.Path("config"),
		EnvFileName: ctx.Path("env-file"),
		Log:         log,
	})
	if err != nil {
		return cfg, err
	}

	return cfg, nil
}

// loadPodConfig is loadConfig for commands that launch pods.
func loadPodConfig(ctx *cli.Context) (config.Config, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return cfg, err
	}

	if cfg.Pods.Start.Cmd == "" {
		return cfg, errNoCommand
	}

	return cfg, nil
}

func getLogger(ctx *cli.Context) *zap.Logger {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return zap.NewNop()
	}

	return log
}
