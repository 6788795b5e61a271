package netsim

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kabili207/meshdfu-go/core/dfu"
)

var _ dfu.Transport = (*Transport)(nil)

var intervalDurations = map[dfu.IntervalClass]time.Duration{
	dfu.IntervalRegular: 100 * time.Millisecond,
}

// Transport is one node's websocket connection to a Hub.
type Transport struct {
	conn *websocket.Conn
	log  *slog.Logger

	Receive func(raw []byte)

	writeMu sync.Mutex
}

// Dial connects to a Hub listening at url (e.g. "ws://host:port/dfu").
func Dial(url string, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	t := &Transport{conn: conn, log: logger.WithGroup("dfu-netsim")}
	go t.readLoop()
	return t, nil
}

// Close closes the underlying websocket connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

func (t *Transport) readLoop() {
	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		if t.Receive != nil {
			t.Receive(payload)
		}
	}
}

func (t *Transport) send(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Acquire returns a fresh Beacon; the websocket link has no fixed packet pool.
func (t *Transport) Acquire() (dfu.Beacon, bool) {
	return &Beacon{transport: t}, true
}

// GetStartPointer always misses, mirroring the serial radio transport:
// every hop across the hub is a fresh frame.
func (t *Transport) GetStartPointer(frame []byte) (dfu.Beacon, bool) {
	return nil, false
}

var _ dfu.Beacon = (*Beacon)(nil)

// Beacon repeatedly sends a payload over the websocket connection.
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
		period = 100 * time.Millisecond
	}

	go func() {
		sent := 0
		for repeats == dfu.RepeatsInfinite || sent < repeats {
			if err := transport.send(payload); err != nil {
				transport.log.Warn("netsim send failed", "error", err)
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
