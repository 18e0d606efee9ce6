package tax

import (
	taxdomain "github.com/smallbiznis/docflow/internal/tax/domain"
	"github.com/smallbiznis/docflow/internal/tax/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tax.service",
	fx.Provide(service.NewRatePolicy),
	fx.Provide(service.NewResolver),
	fx.Provide(service.NewCalculator),
	fx.Provide(func(c *service.Calculator) taxdomain.Calculator { return c }),
)
