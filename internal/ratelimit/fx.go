package ratelimit

import (
	sequencedomain "github.com/smallbiznis/docflow/internal/sequence/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewDocumentLimiter),
	fx.Provide(func(l *DocumentLimiter) sequencedomain.Locker {
		if !l.Enabled() {
			return nil
		}
		return l
	}),
)
