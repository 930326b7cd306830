package webhook

import (
	"rallysphere/internal/server"

	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(
		NewService,
		server.AsRoute(NewHandler),
	),
)
