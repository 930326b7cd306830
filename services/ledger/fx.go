package ledger

import (
	"rallysphere/internal/server"

	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(
		NewService,
		server.AsRoute(NewHandler),
	),
)
