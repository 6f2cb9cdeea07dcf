package querycycle

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/fleetops/bms-gateway/balancing"
	"github.com/fleetops/bms-gateway/canframe"
	"github.com/fleetops/bms-gateway/cantransport"
	"github.com/fleetops/bms-gateway/regcodec"
	"github.com/fleetops/bms-gateway/registerfile"
	"github.com/fleetops/bms-gateway/regmap"
)

// fakeTransport is a minimal in-memory cantransport.Transport for exercising
// the cycle without a real bus.
type fakeTransport struct {
	sent       []cantransport.Frame
	toCollect  []cantransport.Frame
	sendErr    error
	collectErr error
}

func (f *fakeTransport) Start(ctx context.Context) error { return nil }
func (f *fakeTransport) Stop() error                      { return nil }
func (f *fakeTransport) IsConnected() bool                { return true }
func (f *fakeTransport) SetFrameHandler(fn cantransport.FrameHandler) {}

func (f *fakeTransport) Send(ctx context.Context, frame cantransport.Frame) error {
	f.sent = append(f.sent, frame)
	return f.sendErr
}

func (f *fakeTransport) CollectFrames(ctx context.Context, expected int, deadline time.Duration) ([]cantransport.Frame, error) {
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	return f.toCollect, nil
}

// countingPublisher counts the snapshots handed to it.
type countingPublisher struct{ n int }

func (p *countingPublisher) Publish(ctx context.Context, snap Snapshot) error {
	p.n++
	return nil
}

func buildTelemetryFrame(cellValue uint16) []byte {
	data := make([]byte, canframe.TelemetryFrameSize)
	binary.LittleEndian.PutUint16(data[16:18], cellValue)
	return data
}

func TestRunPollingWritesDecodedCells(t *testing.T) {
	regs := registerfile.New(0, 0)
	tr := &fakeTransport{
		toCollect: []cantransport.Frame{
			{ID: canframe.Identifier{Response: true, StringID: 1, BMSGlobalID: 1, PackParity: 1}.Encode(), Data: buildTelemetryFrame(1000)},
		},
	}
	intents := balancing.NewIntentLatch()
	cycle := New(Config{StringID: 1}, tr, regs, intents)

	cycle.runPolling(context.Background())

	addr := regmap.CellAddr(1, 1, 1)
	hi, lo, err := regs.ReadFloatRegs(addr)
	if err != nil {
		t.Fatalf("ReadFloatRegs: %v", err)
	}
	got := regcodec.DecodeFloat32(hi, lo)
	if diff := got - 1.6524; diff > 1e-4 || diff < -1e-4 {
		t.Errorf("decoded cell voltage = %v, want ~1.6524", got)
	}

	if len(tr.sent) != 1 || tr.sent[0].ID != canframe.QueryFrameID {
		t.Errorf("expected one query frame sent, got %+v", tr.sent)
	}
}

func TestRunPollingDeduplicatesRepeatedFrames(t *testing.T) {
	regs := registerfile.New(0, 0)
	id := canframe.Identifier{Response: true, StringID: 1, BMSGlobalID: 1, PackParity: 1}.Encode()
	frameData := buildTelemetryFrame(2000)
	tr := &fakeTransport{
		toCollect: []cantransport.Frame{
			{ID: id, Data: frameData},
			{ID: id, Data: frameData}, // exact retransmit within the same window
		},
	}
	intents := balancing.NewIntentLatch()
	pub := &countingPublisher{}
	cycle := New(Config{StringID: 1, Publisher: pub}, tr, regs, intents)
	cycle.runPolling(context.Background())

	// The retransmit is skipped, so only one frame is handled and published.
	if pub.n != 1 {
		t.Errorf("published %d snapshots, want 1", pub.n)
	}

	// The value still reflects the single decoded frame.
	addr := regmap.CellAddr(1, 1, 1)
	hi, lo, _ := regs.ReadFloatRegs(addr)
	got := regcodec.DecodeFloat32(hi, lo)
	want := float32(2000)*0.00015 + 1.5024
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRunBalancingSendsFourFramesAndClearsIntent(t *testing.T) {
	regs := registerfile.New(0, 0)
	tr := &fakeTransport{}
	intents := balancing.NewIntentLatch()
	intents.Latch(balancing.Intent{PackID: 1, Cells: []int{1, 9, 19}, CurrentAmps: 5})

	cycle := New(Config{StringID: 1}, tr, regs, intents)
	cycle.runIteration(context.Background())

	if len(tr.sent) != 4 {
		t.Fatalf("expected 4 balancing frames sent, got %d", len(tr.sent))
	}
	if intents.Requested() {
		t.Error("intent should be consumed after a balancing iteration")
	}
}

func TestRunIterationPrefersBalancingWhenRequested(t *testing.T) {
	regs := registerfile.New(0, 0)
	tr := &fakeTransport{toCollect: nil}
	intents := balancing.NewIntentLatch()
	intents.Latch(balancing.Intent{PackID: 1, Cells: []int{}})

	cycle := New(Config{StringID: 1}, tr, regs, intents)
	cycle.runIteration(context.Background())

	for _, f := range tr.sent {
		if f.ID == canframe.QueryFrameID {
			t.Error("polling should not run while a balancing intent is latched")
		}
	}
}
