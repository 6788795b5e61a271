package mesh

import (
	"log/slog"
	"sync"

	"github.com/kabili207/meshdfu-go/core/dfu"
)

// Transport implements dfu.Transport for one node joined to a Bus.
var _ dfu.Transport = (*Transport)(nil)

// Transport hands out reference-counted Beacons bounded by capacity, and
// remembers recently-sent payloads so a relay candidate matching one can
// reuse it via GetStartPointer instead of allocating a fresh buffer.
type Transport struct {
	bus      *Bus
	capacity int
	log      *slog.Logger

	mu         sync.Mutex
	Receive    func(raw []byte) // set by the caller to the owning Bootloader's HandlePacket
	outstanding int
	recent     map[string]*Beacon
}

// Acquire obtains a fresh Beacon, or reports exhaustion once capacity
// outstanding beacons are already held.
func (t *Transport) Acquire() (dfu.Beacon, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.capacity > 0 && t.outstanding >= t.capacity {
		return nil, false
	}
	t.outstanding++
	b := &Beacon{transport: t, refcount: 1}
	return b, true
}

// GetStartPointer looks up the Beacon currently backing an identical
// recently-transmitted payload, letting the core bump its refcount
// instead of re-encoding a relay frame from scratch.
func (t *Transport) GetStartPointer(frame []byte) (dfu.Beacon, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.recent[string(frame)]
	return b, ok
}

func (t *Transport) remember(payload []byte, b *Beacon) {
	t.mu.Lock()
	t.recent[string(payload)] = b
	t.mu.Unlock()
}

func (t *Transport) release(b *Beacon) {
	t.mu.Lock()
	t.outstanding--
	if t.outstanding < 0 {
		t.outstanding = 0
	}
	for k, v := range t.recent {
		if v == b {
			delete(t.recent, k)
		}
	}
	t.mu.Unlock()
}
