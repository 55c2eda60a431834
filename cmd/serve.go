package cmd

import (
	"github.com/arach/talkie-sub016/app"
	"github.com/arach/talkie-sub016/app/standalone"
	"github.com/urfave/cli/v2"
)

var (
	serveCmdDescription = `The serve command starts the pod supervisor and a http
server exposing it. Pods are spawned on first use, or at
startup for the capabilities configured to prewarm.

	POST   /pods/{capability}/{action}  send a request to a pod
	PUT    /pods/{capability}           spawn a pod
	DELETE /pods/{capability}           kill a pod
	GET    /pods[/{capability}]         pod status
	GET    /health, /metrics

The command blocks until it is signalled, then kills every
pod and exits.`
	httpFlags = []cli.Flag{
		&cli.StringFlag{
			Name:     "host",
			Aliases:  []string{"H"},
			Usage:    "The host to listen on.",
			Value:    "localhost",
			Category: "http",
			EnvVars:  []string{"HTTP_HOST"},
		},
		&cli.IntFlag{
			Name:     "port",
			Aliases:  []string{"P"},
			Usage:    "The port to listen on.",
			Value:    8080,
			Category: "http",
			EnvVars:  []string{"HTTP_PORT"},
		},
		&cli.StringFlag{
			Name:     "api-key",
			Usage:    "Require this key in the api-key header of pod requests.",
			Category: "http",
			EnvVars:  []string{"PODD_API_KEY"},
		},
	}
	serveCmd = &cli.Command{
		Name:        "serve",
		Usage:       "Start the pod supervisor and a http server.",
		Description: serveCmdDescription,
		Action:      serveAction,
		Flags: append([]cli.Flag{
			&cli.BoolFlag{
				Name:     "h2c",
				Usage:    "Enable HTTP/2 cleartext upgrade.",
				Value:    false,
				Category: "http",
				EnvVars:  []string{"HTTP_H2C"},
			},
			&cli.StringSliceFlag{
				Name:     "prewarm",
				Usage:    "Capabilities to spawn at startup.",
				Category: "pod",
			},
		}, httpFlags...),
	}
)

func serveAction(ctx *cli.Context) error {
	cfg, err := loadPodConfig(ctx)
	if err != nil {
		return err
	}

	return app.New(getLogger(ctx), cfg).Run(ctx.Context, standalone.Module(cfg.Http))
}

func init() {
	rootApp.Commands = append(rootApp.Commands, serveCmd)
}
