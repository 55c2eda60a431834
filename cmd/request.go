package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arach/talkie-sub016/internal/pod/supervisor"
	"github.com/arach/talkie-sub016/internal/shell"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	requestCmdDescription = `The request command spawns the pod for <capability>, sends
it a single <action> request, prints the response and kills
the pod again. It is meant for trying out pod executables.

The payload is a JSON object given with --payload, or read
from stdin if --payload is "-".

The command exits with 2 if the pod answered with success
false.`
	requestCmd = &cli.Command{
		Name:        "request",
		Usage:       "Send a single request to a freshly spawned pod.",
		Description: requestCmdDescription,
		ArgsUsage:   "<capability> <action>",
		Action:      requestAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "payload",
				Aliases: []string{"p"},
				Usage:   `the JSON payload of the request, "-" reads it from stdin.`,
				Value:   "{}",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "give up on the request after this long. 0 waits forever.",
			},
		},
	}
)

func requestAction(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("expected <capability> <action>, got %d arguments", ctx.NArg())
	}

	capability, action := ctx.Args().Get(0), ctx.Args().Get(1)

	payload, err := readPayload(ctx.String("payload"), os.Stdin)
	if err != nil {
		return err
	}

	cfg, err := loadPodConfig(ctx)
	if err != nil {
		return err
	}

	log := getLogger(ctx)

	sup, err := supervisor.New(supervisor.Params{
		Config:     cfg.Pods,
		Registerer: prometheus.NewRegistry(),
		Log:        log,
	})
	if err != nil {
		return err
	}

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Pods.StopTimeout+5*time.Second)
		defer cancel()

		if err := sup.Shutdown(stopCtx); err != nil {
			log.Error("failed to kill pod", zap.Error(err))
		}
	}()

	reqCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if timeout := ctx.Duration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, timeout)
		defer cancel()
	}

	res, err := sup.Request(reqCtx, capability, action, payload)
	if err != nil {
		var exitErr *supervisor.ExitError
		if errors.As(err, &exitErr) && exitErr.Stderr != "" {
			fmt.Fprintln(ctx.App.ErrWriter, exitErr.Stderr)
		}
		return err
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(ctx.App.Writer, string(out))

	if !res.Success {
		return shell.NewExitError(2)
	}

	return nil
}

func readPayload(flag string, stdin io.Reader) (map[string]any, error) {
	raw := []byte(flag)

	if flag == "-" {
		var err error
		if raw, err = io.ReadAll(stdin); err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}

	return payload, nil
}

func init() {
	rootApp.Commands = append(rootApp.Commands, requestCmd)
}
