package club

import (
	"rallysphere/internal/server"

	"go.uber.org/fx"
)

var Module = fx.Module("club.service",
	fx.Provide(
		NewService,
		server.AsRoute(NewHandler),
	),
)
