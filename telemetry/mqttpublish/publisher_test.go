package mqttpublish

import (
	"context"
	"testing"

	"github.com/fleetops/bms-gateway/querycycle"
)

func TestNewDefaults(t *testing.T) {
	p := New(Config{Broker: "tcp://localhost:1883"})
	if p.cfg.TopicPrefix != DefaultTopicPrefix {
		t.Errorf("TopicPrefix = %q, want %q", p.cfg.TopicPrefix, DefaultTopicPrefix)
	}
	if p.log == nil {
		t.Error("expected logger to be set")
	}
}

func TestStartMissingBroker(t *testing.T) {
	p := New(Config{})
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected error with empty broker")
	}
}

func TestPublishNotConnected(t *testing.T) {
	p := New(Config{Broker: "tcp://localhost:1883"})
	err := p.Publish(context.Background(), querycycle.Snapshot{StringID: 1, PackID: 1, BMSIDInPack: 1})
	if err == nil {
		t.Fatal("expected error when not connected")
	}
}
