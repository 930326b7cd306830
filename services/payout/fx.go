package payout

import (
	"rallysphere/internal/server"

	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(
		NewService,
		server.AsRoute(NewHandler),
	),
)
