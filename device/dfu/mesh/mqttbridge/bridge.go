// Package mqttbridge wraps a dfu.Transport with an MQTT publisher, the
// way a MeshCore mesh gets bridged to a broker for remote visibility in
// transport/mqtt/mqtt.go — except here the bridge observes rather than
// carries: every beacon transmitted to the mesh is also mirrored,
// base64-encoded, to an MQTT topic so a fleet dashboard can watch a DFU
// rollout's FWID/STATE/DATA traffic without joining the mesh itself.
package mqttbridge

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/kabili207/meshdfu-go/core/dfu"
)

var _ dfu.Transport = (*Bridge)(nil)

// Config configures the MQTT side of the bridge.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string // default "meshdfu"
	MeshID      string
	Logger      *slog.Logger
}

// Bridge decorates an underlying dfu.Transport, publishing a copy of
// every transmitted beacon payload to "{TopicPrefix}/{MeshID}".
type Bridge struct {
	inner  dfu.Transport
	cfg    Config
	client paho.Client
	topic  string
	log    *slog.Logger
}

// New builds a Bridge wrapping inner, applying cfg's defaults. Call
// Connect to open the MQTT connection before any beacon is transmitted.
func New(inner dfu.Transport, cfg Config) *Bridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "meshdfu"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("meshdfu-%d", rand.Uint64())
	}

	return &Bridge{
		inner: inner,
		cfg:   cfg,
		topic: cfg.TopicPrefix + "/" + cfg.MeshID,
		log:   cfg.Logger.WithGroup("dfu-mqttbridge"),
	}
}

// Connect opens the MQTT connection to cfg.Broker.
func (b *Bridge) Connect() error {
	opts := paho.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true)

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttbridge: connecting to broker: %w", token.Error())
	}
	b.client = client
	return nil
}

// Close disconnects the MQTT client.
func (b *Bridge) Close() {
	if b.client != nil {
		b.client.Disconnect(250)
	}
}

// Acquire delegates to the wrapped transport, returning a Beacon whose
// transmissions are mirrored to MQTT.
func (b *Bridge) Acquire() (dfu.Beacon, bool) {
	beacon, ok := b.inner.Acquire()
	if !ok {
		return nil, false
	}
	return &mirroredBeacon{inner: beacon, bridge: b}, true
}

// GetStartPointer delegates to the wrapped transport. The returned Beacon
// is the inner one, not re-wrapped — a relay reusing it already mirrored
// its payload on first transmission.
func (b *Bridge) GetStartPointer(frame []byte) (dfu.Beacon, bool) {
	return b.inner.GetStartPointer(frame)
}

func (b *Bridge) publish(payload []byte) {
	encoded := base64.StdEncoding.EncodeToString(payload)
	token := b.client.Publish(b.topic, 0, false, encoded)
	go func() {
		if token.Wait() && token.Error() != nil {
			b.log.Warn("mqtt publish failed", "error", token.Error())
		}
	}()
}

var _ dfu.Beacon = (*mirroredBeacon)(nil)

type mirroredBeacon struct {
	inner  dfu.Beacon
	bridge *Bridge

	payload []byte
}

func (m *mirroredBeacon) SetPayload(frame []byte) {
	m.payload = frame
	m.inner.SetPayload(frame)
}

func (m *mirroredBeacon) Tx(repeats int, interval dfu.IntervalClass) {
	if len(m.payload) > 0 {
		m.bridge.publish(m.payload)
	}
	m.inner.Tx(repeats, interval)
}

func (m *mirroredBeacon) TxAbort()     { m.inner.TxAbort() }
func (m *mirroredBeacon) RefCountInc() { m.inner.RefCountInc() }
func (m *mirroredBeacon) RefCountDec() { m.inner.RefCountDec() }
