package document

import (
	"github.com/smallbiznis/docflow/internal/document/render"
	"github.com/smallbiznis/docflow/internal/document/repository"
	"github.com/smallbiznis/docflow/internal/document/service"
	"go.uber.org/fx"
)

var Module = fx.Module("document.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
	fx.Provide(render.New),
)
