package store

import (
	"rallysphere/internal/server"

	"go.uber.org/fx"
)

var Module = fx.Module("store.service",
	fx.Provide(
		NewService,
		server.AsRoute(NewHandler),
	),
)
