package wbft

import (
	"fmt"
	"time"
)

// timeoutInfo identifies the state a scheduled timeout belongs to, so
// late fires for superseded rounds can be discarded.
type timeoutInfo struct {
	Duration time.Duration
	Height   uint64
	Round    uint32
	Step     RoundStep
}

func (ti timeoutInfo) String() string {
	return fmt.Sprintf("%v at height=%d round=%d step=%s", ti.Duration, ti.Height, ti.Round, ti.Step)
}

// timeoutTicker delivers scheduled timeouts on a channel. Scheduling a
// new timeout replaces any pending one; the engine only ever waits for
// a single timeout at a time.
type timeoutTicker struct {
	timer    *time.Timer
	tickChan chan timeoutInfo
	tockChan chan timeoutInfo
	stopChan chan struct{}
}

func newTimeoutTicker() *timeoutTicker {
	t := &timeoutTicker{
		timer:    time.NewTimer(0),
		tickChan: make(chan timeoutInfo, 10),
		tockChan: make(chan timeoutInfo, 10),
		stopChan: make(chan struct{}),
	}
	t.stopTimer()
	return t
}

// Start launches the timeout routine.
func (t *timeoutTicker) Start() {
	go t.timeoutRoutine()
}

// Stop terminates the timeout routine.
func (t *timeoutTicker) Stop() {
	close(t.stopChan)
	t.stopTimer()
}

// ScheduleTimeout arms a timeout, replacing any pending one.
func (t *timeoutTicker) ScheduleTimeout(ti timeoutInfo) {
	select {
	case t.tickChan <- ti:
	case <-t.stopChan:
	}
}

// Chan returns the channel on which expired timeouts are delivered.
func (t *timeoutTicker) Chan() <-chan timeoutInfo {
	return t.tockChan
}

func (t *timeoutTicker) stopTimer() {
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
}

// timeoutRoutine arms the timer on ticks and relays expirations as
// tocks. A tick always supersedes the pending timeout.
func (t *timeoutTicker) timeoutRoutine() {
	var pending timeoutInfo
	for {
		select {
		case ti := <-t.tickChan:
			t.stopTimer()
			pending = ti
			t.timer.Reset(ti.Duration)
		case <-t.timer.C:
			select {
			case t.tockChan <- pending:
			case <-t.stopChan:
				return
			}
		case <-t.stopChan:
			return
		}
	}
}
