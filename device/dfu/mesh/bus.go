// Package mesh implements dfu.Transport and dfu.Beacon over an in-process
// broadcast bus: every Bootloader attached to the same Bus receives every
// frame every other attached Bootloader transmits, the way every radio in
// listening range receives every advertisement on the real mesh.
//
// This is the production transport for a single-process simulation (and
// the backbone of the package's own tests); a serial- or socket-attached
// deployment swaps it for device/dfu/mesh/radio or device/dfu/mesh/netsim
// without the core package noticing.
package mesh

import (
	"log/slog"
	"sync"
)

// Bus fans out transmitted frames to every joined Transport except the
// sender. There is no addressing: like the real advertising channel,
// every member hears every frame and relies on the DFU core's own
// transaction-id and dedup-cache filtering to ignore what isn't theirs.
type Bus struct {
	mu      sync.Mutex
	members []*Transport
	log     *slog.Logger
}

// NewBus creates an empty bus. logger defaults to slog.Default() if nil.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{log: logger.WithGroup("dfu-mesh")}
}

// TransportConfig bounds one member's outstanding-beacon pool, simulating
// the fixed packet-buffer budget the real radio stack allocates per node.
type TransportConfig struct {
	// Capacity is the number of beacons that may be outstanding
	// (acquired but not yet released) at once. Zero means unlimited.
	Capacity int
}

// Join attaches a new member to the bus and returns its Transport. The
// caller must set Transport.Receive before any frame can reach it.
func (b *Bus) Join(cfg TransportConfig) *Transport {
	t := &Transport{
		bus:      b,
		capacity: cfg.Capacity,
		recent:   make(map[string]*Beacon),
		log:      b.log,
	}
	b.mu.Lock()
	b.members = append(b.members, t)
	b.mu.Unlock()
	return t
}

// Leave detaches a member, e.g. when a simulated node finishes or reboots.
func (b *Bus) Leave(t *Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.members {
		if m == t {
			b.members = append(b.members[:i], b.members[i+1:]...)
			return
		}
	}
}

func (b *Bus) broadcast(from *Transport, payload []byte) {
	b.mu.Lock()
	targets := make([]*Transport, 0, len(b.members))
	for _, m := range b.members {
		if m != from {
			targets = append(targets, m)
		}
	}
	b.mu.Unlock()

	frame := append([]byte(nil), payload...)
	for _, t := range targets {
		t.mu.Lock()
		recv := t.Receive
		t.mu.Unlock()
		if recv != nil {
			recv(frame)
		}
	}
}
