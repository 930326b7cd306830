package event

import (
	"rallysphere/internal/server"

	"go.uber.org/fx"
)

var Module = fx.Module("event.service",
	fx.Provide(
		NewService,
		server.AsRoute(NewHandler),
	),
)
