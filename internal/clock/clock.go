package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts time so billing arithmetic is deterministic in tests.
// All services read time through it, never through time.Now directly.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func NewSystemClock() Clock {
	return systemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
