package core

import (
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/rs/zerolog"
)

// eventLog throttles warnings raised on interrupt paths, per category, so a
// misbehaving line cannot flood the log.
type eventLog struct {
	log     zerolog.Logger
	limiter *catrate.Limiter
}

func newEventLog(log zerolog.Logger, perSecond int) *eventLog {
	l := &eventLog{log: log}
	if perSecond > 0 {
		l.limiter = catrate.NewLimiter(map[time.Duration]int{time.Second: perSecond})
	}
	return l
}

// warn returns a warning event, or nil (which zerolog treats as disabled)
// when category is over its rate.
func (l *eventLog) warn(category string) *zerolog.Event {
	if l.limiter != nil {
		if _, ok := l.limiter.Allow(category); !ok {
			return nil
		}
	}
	return l.log.Warn()
}
