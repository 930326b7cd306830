package checkout

import (
	"rallysphere/internal/server"

	"go.uber.org/fx"
)

var Module = fx.Module("checkout.service",
	fx.Provide(
		NewService,
		server.AsRoute(NewHandler),
	),
)
