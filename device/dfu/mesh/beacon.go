package mesh

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kabili207/meshdfu-go/core/dfu"
)

var _ dfu.Beacon = (*Beacon)(nil)

// intervalDurations maps the protocol's abstract IntervalClass values onto
// concrete send periods for the in-process bus. A real radio attachment
// would instead program these into its advertising hardware.
var intervalDurations = map[dfu.IntervalClass]time.Duration{
	dfu.IntervalRegular: 100 * time.Millisecond,
}

// Beacon is one outstanding, reference-counted outbound advertisement.
// Created with a refcount of 1 by Transport.Acquire; dropping to zero via
// RefCountDec returns its slot to the transport's capacity.
type Beacon struct {
	transport *Transport

	mu      sync.Mutex
	payload []byte
	stop    chan struct{}
	stopped bool

	refcount int32
}

// SetPayload installs the frame bytes to be (re)transmitted.
func (b *Beacon) SetPayload(frame []byte) {
	b.mu.Lock()
	b.payload = append([]byte(nil), frame...)
	b.mu.Unlock()
}

// Tx starts transmitting the installed payload, repeats times (or forever
// if repeats is dfu.RepeatsInfinite), spaced by interval. Calling Tx again
// while a prior transmission is still running replaces it.
func (b *Beacon) Tx(repeats int, interval dfu.IntervalClass) {
	b.mu.Lock()
	if b.stop != nil && !b.stopped {
		close(b.stop)
	}
	stop := make(chan struct{})
	b.stop = stop
	b.stopped = false
	payload := b.payload
	transport := b.transport
	b.mu.Unlock()

	if transport == nil || len(payload) == 0 {
		return
	}

	period := intervalDurations[interval]
	if period == 0 {
		period = 100 * time.Millisecond
	}

	go func() {
		sent := 0
		for repeats == dfu.RepeatsInfinite || sent < repeats {
			transport.bus.broadcast(transport, payload)
			transport.remember(payload, b)
			sent++
			select {
			case <-stop:
				return
			case <-time.After(period):
			}
		}
	}()
}

// TxAbort cancels any in-flight transmission loop. Idempotent.
func (b *Beacon) TxAbort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stop != nil && !b.stopped {
		close(b.stop)
		b.stopped = true
	}
}

// RefCountInc records an additional owner of this beacon (e.g. a relay
// bumping the refcount on a frame it is about to re-transmit).
func (b *Beacon) RefCountInc() {
	atomic.AddInt32(&b.refcount, 1)
}

// RefCountDec drops an owner; at zero the beacon's slot returns to the
// transport's outstanding-capacity pool.
func (b *Beacon) RefCountDec() {
	if atomic.AddInt32(&b.refcount, -1) <= 0 {
		b.TxAbort()
		if b.transport != nil {
			b.transport.release(b)
		}
	}
}
