// Package radio implements dfu.Transport and dfu.Beacon over a serial
// port, framing each DFU packet with the same Fletcher-16-checked RS232
// envelope the teacher's transport/serial package uses for its MeshCore
// bridge link. Grounded directly on transport/serial/serial.go's
// Open/readLoop/Config shape.
package radio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kabili207/meshdfu-go/core/codec"
	"github.com/kabili207/meshdfu-go/core/dfu"
	"go.bug.st/serial"
)

var _ dfu.Transport = (*Transport)(nil)

// DefaultBaudRate matches the serial transport's MeshCore default.
const DefaultBaudRate = 115200

// Config holds the serial port configuration.
type Config struct {
	Port     string
	BaudRate int
	Logger   *slog.Logger
}

// Transport sends and receives DFU frames over one serial port. Because a
// point-to-point serial link has no real relay fan-out, GetStartPointer
// never finds a match: every relay builds a fresh frame.
type Transport struct {
	cfg    Config
	log    *slog.Logger
	port   serial.Port
	Receive func(raw []byte)

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a Transport bound to cfg. Call Open before Acquire.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{cfg: cfg, log: cfg.Logger.WithGroup("dfu-radio")}
}

// Open opens the serial port and starts the read loop that decodes
// inbound RS232 frames and delivers their payload to Receive.
func (t *Transport) Open(ctx context.Context) error {
	if t.cfg.Port == "" {
		return errors.New("radio: serial port is required")
	}
	port, err := serial.Open(t.cfg.Port, &serial.Mode{BaudRate: t.cfg.BaudRate})
	if err != nil {
		return fmt.Errorf("radio: opening serial port: %w", err)
	}

	t.mu.Lock()
	t.port = port
	readCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	go t.readLoop(readCtx)
	t.log.Info("radio opened", "port", t.cfg.Port, "baud", t.cfg.BaudRate)
	return nil
}

// Close stops the read loop and closes the serial port.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	port := t.port
	t.port = nil
	t.mu.Unlock()
	if port != nil {
		return port.Close()
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return
	}

	reader := bufio.NewReader(port)
	buf := make([]byte, 0, codec.MaxTransUnit*2)
	chunk := make([]byte, 256)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := reader.Read(chunk)
		if err != nil {
			t.log.Warn("radio read failed", "error", err)
			return
		}
		buf = append(buf, chunk[:n]...)

		for {
			frame, remaining, err := codec.DecodeRS232Frame(buf)
			if err != nil {
				break
			}
			buf = remaining
			if t.Receive != nil {
				t.Receive(frame.Payload)
			}
		}
	}
}

// Acquire returns a fresh Beacon; the serial link has no fixed packet
// pool, so acquisition never fails.
func (t *Transport) Acquire() (dfu.Beacon, bool) {
	return &Beacon{transport: t}, true
}

// GetStartPointer always misses: a point-to-point serial link never has
// a second in-flight copy of a frame to reuse.
func (t *Transport) GetStartPointer(frame []byte) (dfu.Beacon, bool) {
	return nil, false
}

func (t *Transport) write(payload []byte) error {
	frame, err := codec.EncodeRS232Frame(payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return errors.New("radio: port not open")
	}
	_, err = port.Write(frame)
	return err
}
