package plancode

import (
	"github.com/smallbiznis/billingly/internal/plancode/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plancode",
	fx.Provide(service.NewService),
)
