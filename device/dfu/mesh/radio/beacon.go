package radio

import (
	"sync"
	"time"

	"github.com/kabili207/meshdfu-go/core/dfu"
)

var _ dfu.Beacon = (*Beacon)(nil)

var intervalDurations = map[dfu.IntervalClass]time.Duration{
	dfu.IntervalRegular: 150 * time.Millisecond,
}

// Beacon repeatedly writes a payload to the serial link.
type Beacon struct {
	transport *Transport

	mu      sync.Mutex
	payload []byte
	stop    chan struct{}
}

func (b *Beacon) SetPayload(frame []byte) {
	b.mu.Lock()
	b.payload = append([]byte(nil), frame...)
	b.mu.Unlock()
}

func (b *Beacon) Tx(repeats int, interval dfu.IntervalClass) {
	b.mu.Lock()
	if b.stop != nil {
		close(b.stop)
	}
	stop := make(chan struct{})
	b.stop = stop
	payload := b.payload
	transport := b.transport
	b.mu.Unlock()

	if transport == nil || len(payload) == 0 {
		return
	}
	period := intervalDurations[interval]
	if period == 0 {
		period = 150 * time.Millisecond
	}

	go func() {
		sent := 0
		for repeats == dfu.RepeatsInfinite || sent < repeats {
			if err := transport.write(payload); err != nil {
				transport.log.Warn("radio write failed", "error", err)
				return
			}
			sent++
			select {
			case <-stop:
				return
			case <-time.After(period):
			}
		}
	}()
}

func (b *Beacon) TxAbort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stop != nil {
		select {
		case <-b.stop:
		default:
			close(b.stop)
		}
	}
}

func (b *Beacon) RefCountInc() {}
func (b *Beacon) RefCountDec() {}
