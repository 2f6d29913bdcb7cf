package customer

import (
	"github.com/smallbiznis/billingly/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer",
	fx.Provide(service.NewService),
)
