package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"
)

var (
	statusCmdDescription = `The status command asks a running serve instance for the
status of its pods and prints it. With a <capability> only
that pod is queried.`
	statusCmd = &cli.Command{
		Name:        "status",
		Usage:       "Print the pod status of a running server.",
		Description: statusCmdDescription,
		ArgsUsage:   "[capability]",
		Action:      statusAction,
		Flags: append([]cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "how long to wait for the server.",
				Value: 10 * time.Second,
			},
		}, httpFlags...),
	}
)

func statusAction(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	u := url.URL{
		Scheme: "http",
		Host:   cfg.Http.Address(),
		Path:   "/pods",
	}
	if capability := ctx.Args().First(); capability != "" {
		u = *u.JoinPath(capability)
	}

	req, err := http.NewRequestWithContext(ctx.Context, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	if cfg.Auth.Key != "" {
		req.Header.Set("api-key", cfg.Auth.Key)
	}

	client := &http.Client{Timeout: ctx.Duration("timeout")}

	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", u.String(), err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("server answered %s: %s", res.Status, bytes.TrimSpace(body))
	}

	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}

	fmt.Fprintln(ctx.App.Writer, out.String())

	return nil
}

func init() {
	rootApp.Commands = append(rootApp.Commands, statusCmd)
}
