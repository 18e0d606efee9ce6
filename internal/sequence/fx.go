package sequence

import (
	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	sequencedomain "github.com/smallbiznis/docflow/internal/sequence/domain"
	"github.com/smallbiznis/docflow/internal/sequence/repository"
	"github.com/smallbiznis/docflow/internal/sequence/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(func(r documentdomain.Repository) sequencedomain.DocumentCounter { return r }),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) sequencedomain.Allocator { return s }),
)
