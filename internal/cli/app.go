package cli

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/docflow/internal/clock"
	"github.com/smallbiznis/docflow/internal/config"
	"github.com/smallbiznis/docflow/internal/document"
	"github.com/smallbiznis/docflow/internal/migration"
	"github.com/smallbiznis/docflow/internal/observability"
	"github.com/smallbiznis/docflow/internal/ratelimit"
	"github.com/smallbiznis/docflow/internal/sequence"
	"github.com/smallbiznis/docflow/internal/tax"
	"github.com/smallbiznis/docflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// coreOptions wires config, logging, storage and the schema.
func coreOptions(verbose bool) fx.Option {
	opts := []fx.Option{
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
	}
	if verbose {
		opts = append(opts, fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}))
	} else {
		opts = append(opts, fx.NopLogger)
	}
	return fx.Options(opts...)
}

// domainOptions wires the numbering and document engine.
func domainOptions() fx.Option {
	return fx.Options(
		ratelimit.Module,
		tax.Module,
		document.Module,
		sequence.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
