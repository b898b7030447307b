package ddtc

import (
	"time"

	"github.com/fagongzi/goetty"

	"github.com/dataplacement/ddtc/pkg/util"
)

// TimeoutWheel wraps goetty's TimeoutWheel, backed by pkg/util.DefaultTW's
// shared 100ms wheel, for the team tracker's delayed data-loss logger
// (§4.3) and the event emitter's relocation retry backoff.
type TimeoutWheel struct {
	tw *goetty.TimeoutWheel
}

// NewTimeoutWheel returns a wheel backed by the process-wide default wheel,
// the teacher's singleton-timer idiom.
func NewTimeoutWheel() *TimeoutWheel {
	return &TimeoutWheel{tw: util.DefaultTW}
}

type timeoutHandle struct {
	t goetty.Timeout
}

func (h *timeoutHandle) cancel() {
	if h == nil {
		return
	}
	h.t.Stop()
}

// Schedule runs fn once after d elapses, unless cancelled first. Grounded on
// pkg/transport.transport's util.DefaultTW.Schedule(d, func(interface{}), arg)
// retry-after-backoff usage.
func (tw *TimeoutWheel) Schedule(d time.Duration, fn func()) *timeoutHandle {
	t, err := tw.tw.Schedule(d, func(interface{}) { fn() }, nil)
	if err != nil {
		return nil
	}
	return &timeoutHandle{t: t}
}
