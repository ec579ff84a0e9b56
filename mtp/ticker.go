package mtp

import (
	"time"

	"go.uber.org/atomic"
)

// MutableTicker is a time.Ticker whose interval can be changed, paused
// and resumed while running, without tearing down and recreating the
// underlying timer. BulkPipe uses one to pace its low-rate telemetry
// heartbeat (in-flight URB count, discard count, throughput) — a
// fixed-interval time.Ticker would need to be stopped and replaced on
// every interval change.
type MutableTicker struct {
	C <-chan bool
	d *atomic.Int64
	e *atomic.Bool
	i chan bool
}

func NewMutableTicker(d time.Duration) *MutableTicker {
	c := make(chan bool, 1)
	mt := &MutableTicker{
		C: c,
		d: atomic.NewInt64(int64(d)),
		e: atomic.NewBool(true),
		i: make(chan bool, 1),
	}

	go func() {
		for {
			if mt.e.Load() {
				select {
				case c <- true:
				default:
				}
			}

			t := time.NewTimer(time.Duration(mt.d.Load()))
			select {
			case <-t.C:
			case <-mt.i:
				t.Stop()
			}
		}
	}()

	return mt
}

func (mt *MutableTicker) SetInterval(d time.Duration) {
	mt.d.Store(int64(d))
	mt.interrupt()
}

func (mt *MutableTicker) Stop() {
	mt.e.Store(false)
	mt.interrupt()
}

func (mt *MutableTicker) Start() {
	mt.e.Store(true)
	mt.interrupt()
}

func (mt *MutableTicker) interrupt() {
	select {
	case mt.i <- true:
	default:
	}
}
