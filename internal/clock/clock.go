package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock supplies the reference time for numbering and date defaults.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// System returns the wall clock.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

var Module = fx.Module("clock",
	fx.Provide(System),
)
