package balancing

import (
	"fmt"
	"log/slog"

	"github.com/fleetops/bms-gateway/canframe"
)

// CellsPerPack is the total number of cells addressable within one pack.
const CellsPerPack = 104

// cellsPerBMU is the number of cells monitored by a single BMU.
const cellsPerBMU = 18

// defaultSkeletons are the neutral ("stop balancing") payloads for the four
// command frames, in send order: 0x97 #1, 0x97 #2, 0x98 #1, 0x98 #2.
var defaultSkeletons = [4][8]byte{
	{0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00},
	{0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	{0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00},
	{0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
}

// frameIDs are the CAN identifiers of the four frames, in send order.
var frameIDs = [4]uint16{
	canframe.BalanceFrameID1, canframe.BalanceFrameID1,
	canframe.BalanceFrameID2, canframe.BalanceFrameID2,
}

// Planner turns a set of selected cells into the four-frame balancing
// command sequence. It holds no mutable state; the target is always a
// single pack per call, matching the single-pack scope the four-frame
// skeleton is defined over.
type Planner struct {
	log *slog.Logger
}

// NewPlanner creates a Planner. logger may be nil, in which case
// slog.Default() is used.
func NewPlanner(logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{log: logger.WithGroup("balancing")}
}

// BuildFrames builds the four command frames that select the given cells
// (1..104, within one pack) for discharge. An empty cells slice produces the
// neutral stop-balancing skeleton.
//
// currentAmps is accepted but not encoded into the frame payload: neither
// the source protocol nor this specification's skeleton writes it to the
// wire. A non-zero value is only logged at Debug level; it is not part of
// the return value.
func (p *Planner) BuildFrames(cells []int, currentAmps float32) ([4]canframe.CommandFrame, error) {
	var payloads [4][8]byte = defaultSkeletons

	for _, cell := range cells {
		if cell < 1 || cell > CellsPerPack {
			return [4]canframe.CommandFrame{}, fmt.Errorf("%w: %d", ErrInvalidCell, cell)
		}
		setCellBit(&payloads, cell)
	}

	if currentAmps != 0 {
		p.log.Debug("balancing current requested but not wire-encoded", "amps", currentAmps)
	}

	var frames [4]canframe.CommandFrame
	for i := range frames {
		frames[i] = canframe.CommandFrame{ID: frameIDs[i], Data: payloads[i]}
	}
	return frames, nil
}

// setCellBit sets the mask bit for a single pack-relative cell (1..104)
// across the four frame payloads, per the bit placement rule: cells 1..54
// address the 0x97 pair, cells 55..104 (normalised to 1..50) address the
// 0x98 pair; within a half, cells are grouped into BMUs of 18; within a
// BMU, byte_offset = (cell_in_bmu-1) div 8, bit = (cell_in_bmu-1) mod 8.
func setCellBit(payloads *[4][8]byte, cellInPack int) {
	var half, cellInHalf int
	if cellInPack <= 54 {
		half = 0
		cellInHalf = cellInPack
	} else {
		half = 1
		cellInHalf = cellInPack - 54
	}

	bmuIdx := (cellInHalf - 1) / cellsPerBMU // 0 (BMU-1), 1 (BMU-2), 2 (BMU-3)
	cellInBMU := (cellInHalf-1)%cellsPerBMU + 1
	byteOffset := (cellInBMU - 1) / 8
	bit := uint((cellInBMU - 1) % 8)

	frameBase := half * 2
	switch bmuIdx {
	case 0: // BMU-1: frame #1, bytes 1..3
		payloads[frameBase][1+byteOffset] |= 1 << bit
	case 1: // BMU-2: frame #1, bytes 5..7
		payloads[frameBase][5+byteOffset] |= 1 << bit
	case 2: // BMU-3: frame #2, bytes 1..3
		payloads[frameBase+1][1+byteOffset] |= 1 << bit
	}
}
