// Package mqttpublish mirrors decoded telemetry snapshots to an MQTT
// broker. It is a one-directional observer: nothing published here is ever
// read back by the gateway.
package mqttpublish

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/fleetops/bms-gateway/querycycle"
)

// DefaultTopicPrefix is the default MQTT topic prefix for published
// snapshots.
const DefaultTopicPrefix = "bms-gateway"

// Config holds the configuration for a Publisher.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a default is used.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "bms-gateway").
	TopicPrefix string
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// snapshotMessage is the JSON wire shape published for each snapshot.
type snapshotMessage struct {
	StringID    int       `json:"string_id"`
	PackID      int       `json:"pack_id"`
	BMSIDInPack int       `json:"bms_id_in_pack"`
	Cells       []float32 `json:"cells"`
	Thermistors []float32 `json:"thermistors"`
	Pressure    float32   `json:"pressure"`
	Current     float32   `json:"current"`
}

// Publisher implements querycycle.SnapshotPublisher over MQTT.
type Publisher struct {
	cfg Config
	log *slog.Logger

	mu        sync.RWMutex
	client    paho.Client
	connected bool
}

// compile-time interface check.
var _ querycycle.SnapshotPublisher = (*Publisher)(nil)

// New creates a Publisher with the given configuration. It does not
// connect until Start is called.
func New(cfg Config) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{cfg: cfg, log: cfg.Logger.WithGroup("mqttpublish")}
}

// Start connects to the MQTT broker. Publish calls made before a
// successful Start, or after the connection drops, fail fast rather than
// blocking the calling query cycle.
func (p *Publisher) Start(ctx context.Context) error {
	if p.cfg.Broker == "" {
		return errors.New("mqttpublish: broker URL is required")
	}

	clientID := p.cfg.ClientID
	if clientID == "" {
		clientID = "bms-gateway-publisher"
	}

	opts := paho.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetCleanSession(true).
		SetOnConnectHandler(p.onConnected).
		SetConnectionLostHandler(p.onConnectionLost)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
	}
	if p.cfg.Password != "" {
		opts.SetPassword(p.cfg.Password)
	}
	if p.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("mqttpublish: connection timeout")
	}
	return token.Error()
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Disconnect(500)
		p.connected = false
	}
}

// Publish encodes the snapshot as JSON and publishes it best-effort to
// "{TopicPrefix}/{string}/{pack}/{bms}". Satisfies querycycle.SnapshotPublisher.
func (p *Publisher) Publish(ctx context.Context, snap querycycle.Snapshot) error {
	p.mu.RLock()
	client, connected := p.client, p.connected
	p.mu.RUnlock()

	if !connected || client == nil {
		return errors.New("mqttpublish: not connected")
	}

	msg := snapshotMessage{
		StringID:    snap.StringID,
		PackID:      snap.PackID,
		BMSIDInPack: snap.BMSIDInPack,
	}
	if snap.Frame != nil {
		msg.Cells = snap.Frame.Cells[:]
		msg.Thermistors = snap.Frame.Thermistors[:]
		msg.Pressure = snap.Frame.Pressure
		msg.Current = snap.Frame.Current
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mqttpublish: encoding snapshot: %w", err)
	}

	topic := fmt.Sprintf("%s/%d/%d/%d", p.cfg.TopicPrefix, snap.StringID, snap.PackID, snap.BMSIDInPack)
	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("mqttpublish: publish timeout")
	}
	return token.Error()
}

func (p *Publisher) onConnected(_ paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	p.log.Info("connected to MQTT broker", "broker", p.cfg.Broker)
}

func (p *Publisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.Error("MQTT connection lost", "error", err)
}
