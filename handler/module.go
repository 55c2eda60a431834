package handler

import "go.uber.org/fx"

func Module() fx.Option {
	return fx.Module("handler",
		fx.Provide(NewPodHandler),
		fx.Provide(NewPodRoute),
		fx.Provide(NewHealthRoute),
		fx.Provide(NewMetricsRoute),
	)
}
