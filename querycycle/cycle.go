// Package querycycle drives the periodic CAN-FD query/response poll and
// interleaves it with balancing command output. It is the sole writer into
// the register file's telemetry fields.
package querycycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetops/bms-gateway/balancing"
	"github.com/fleetops/bms-gateway/bmsregistry"
	"github.com/fleetops/bms-gateway/canframe"
	"github.com/fleetops/bms-gateway/cantransport"
	"github.com/fleetops/bms-gateway/framededup"
	"github.com/fleetops/bms-gateway/regcodec"
	"github.com/fleetops/bms-gateway/registerfile"
	"github.com/fleetops/bms-gateway/regmap"
)

const (
	// DefaultQueryPeriod is the default interval between query cycles.
	DefaultQueryPeriod = 30 * time.Second
	// DefaultCollectDeadline bounds how long a single collection phase
	// waits for the expected number of response frames.
	DefaultCollectDeadline = 3 * time.Second
	// ExpectedFramesPerQuery is the number of BMU replies one query cycle
	// waits for: BMSPerPack BMUs per pack, times packs per string.
	ExpectedFramesPerQuery = 24
	// balanceFrameSpacing is the inter-frame delay between the four
	// balancing command frames.
	balanceFrameSpacing = 100 * time.Millisecond
)

// SnapshotPublisher receives a best-effort copy of each BMU reply decoded
// and written during a polling phase. Errors are logged, never propagated.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snapshot Snapshot) error
}

// Snapshot is a lightweight, read-only view of one string's decoded
// telemetry for a single BMU reply, handed to SnapshotPublisher.
type Snapshot struct {
	StringID    int
	PackID      int
	BMSIDInPack int
	Frame       *canframe.TelemetryFrame
}

// Config configures a Cycle.
type Config struct {
	// QueryPeriod is the interval between query cycles. Default: 30s.
	QueryPeriod time.Duration
	// CollectDeadline bounds the collection phase per cycle. Default: 3s.
	CollectDeadline time.Duration
	// StringID is the bus string this cycle polls.
	StringID int
	// Publisher, if set, receives one snapshot per decoded BMU reply.
	Publisher SnapshotPublisher
	// Logger for cycle events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Cycle is the single-writer query/balance state machine.
type Cycle struct {
	cfg      Config
	log      *slog.Logger
	transport cantransport.Transport
	regs      *registerfile.File
	planner   *balancing.Planner
	intents   *balancing.IntentLatch
	registry  *bmsregistry.Registry
	dedup     *framededup.Deduplicator

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Cycle wired to the given transport and register file.
func New(cfg Config, transport cantransport.Transport, regs *registerfile.File, intents *balancing.IntentLatch) *Cycle {
	if cfg.QueryPeriod <= 0 {
		cfg.QueryPeriod = DefaultQueryPeriod
	}
	if cfg.CollectDeadline <= 0 {
		cfg.CollectDeadline = DefaultCollectDeadline
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cycle{
		cfg:       cfg,
		log:       logger.WithGroup("querycycle"),
		transport: transport,
		regs:      regs,
		planner:   balancing.NewPlanner(logger),
		intents:   intents,
		registry:  bmsregistry.New(),
		dedup:     framededup.New(),
	}
}

// Start begins the periodic query/balance loop in a background goroutine
// and returns immediately. The loop runs until ctx is cancelled or Stop is
// called.
func (c *Cycle) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop cancels the loop and waits for the in-flight iteration to finish.
func (c *Cycle) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}
}

func (c *Cycle) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.QueryPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runIteration(ctx)
		}
	}
}

// runIteration performs one cycle: a balancing phase if an intent is
// latched, otherwise a polling phase. The intent flag is read only at this
// boundary so a request submitted mid-poll takes effect next cycle.
func (c *Cycle) runIteration(ctx context.Context) {
	if c.intents.Requested() {
		c.runBalancing(ctx)
		return
	}
	c.runPolling(ctx)
}

func (c *Cycle) runPolling(ctx context.Context) {
	c.dedup.Reset()

	payload := canframe.QueryFramePayload()
	queryFrame := cantransport.Frame{ID: canframe.QueryFrameID, Data: payload[:]}
	if err := c.transport.Send(ctx, queryFrame); err != nil {
		c.log.Error("sending query frame failed", "error", err)
		return
	}

	frames, err := c.transport.CollectFrames(ctx, ExpectedFramesPerQuery, c.cfg.CollectDeadline)
	if err != nil {
		c.log.Error("collecting response frames failed", "error", err)
		return
	}
	if len(frames) < ExpectedFramesPerQuery {
		c.log.Warn("query cycle collected fewer frames than expected",
			"got", len(frames), "want", ExpectedFramesPerQuery)
	}

	for _, raw := range frames {
		if c.dedup.HasSeen(raw.ID, raw.Data) {
			continue
		}
		c.handleResponseFrame(ctx, raw)
	}
}

func (c *Cycle) handleResponseFrame(ctx context.Context, raw cantransport.Frame) {
	ident, err := canframe.ParseIdentifier(raw.ID)
	if err != nil || !ident.Valid() || !ident.Response {
		return
	}

	frame, err := canframe.ParseTelemetryFrame(raw.Data)
	if err != nil {
		c.log.Warn("decode error", "id", fmt.Sprintf("0x%03X", raw.ID), "error", err)
		return
	}

	c.registry.Touch(bmsregistry.Key{
		StringID:    c.cfg.StringID,
		PackID:      ident.PackID,
		BMSIDInPack: ident.BMSIDInPack,
	})

	if err := c.writeFrame(c.cfg.StringID, ident.PackID, ident.BMSIDInPack, frame); err != nil {
		c.log.Error("writing decoded frame to register file failed", "error", err)
		return
	}

	if c.cfg.Publisher != nil {
		snap := Snapshot{StringID: c.cfg.StringID, PackID: ident.PackID, BMSIDInPack: ident.BMSIDInPack, Frame: frame}
		if err := c.cfg.Publisher.Publish(ctx, snap); err != nil {
			c.log.Warn("publishing telemetry snapshot failed", "error", err)
		}
	}
}

// writeFrame maps one BMU's decoded cell and thermistor codes onto the
// register file. Cell indices within a pack run 1..104 across the pack's
// six BMUs (18 cells each, except the sixth which carries 14).
func (c *Cycle) writeFrame(s, p, bms int, frame *canframe.TelemetryFrame) error {
	cellBase := (bms - 1) * 18
	for i, v := range frame.Cells {
		cellIdx := cellBase + i + 1
		if cellIdx > regmap.C {
			break
		}
		addr := regmap.CellAddr(s, p, cellIdx)
		hi, lo := regcodec.EncodeFloat32(v)
		if err := c.regs.WriteFloat(addr, hi, lo); err != nil {
			return err
		}
	}

	// Thermistor slots store volts. The gateway does not convert them to
	// Celsius on write or on Modbus read; canframe.VoltageToCelsius does that
	// conversion for callers that need it.
	for i, v := range frame.Thermistors {
		addr := regmap.TempAddr(s, p, bms, i+1)
		hi, lo := regcodec.EncodeFloat32(v)
		if err := c.regs.WriteFloat(addr, hi, lo); err != nil {
			return err
		}
	}

	return nil
}

func (c *Cycle) runBalancing(ctx context.Context) {
	intent, ok := c.intents.Consume()
	if !ok {
		return
	}

	frames, err := c.planner.BuildFrames(intent.Cells, intent.CurrentAmps)
	if err != nil {
		c.log.Error("building balancing frames failed", "pack", intent.PackID, "error", err)
		return
	}
	for i, f := range frames {
		wire := cantransport.Frame{ID: f.ID, Data: f.Data[:]}
		if err := c.transport.Send(ctx, wire); err != nil {
			c.log.Error("sending balancing frame failed", "pack", intent.PackID, "frame", i, "error", err)
			return
		}
		if i < len(frames)-1 {
			time.Sleep(balanceFrameSpacing)
		}
	}
}
