package order

import (
	"rallysphere/internal/server"

	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(
		NewService,
		server.AsRoute(NewHandler),
	),
)
