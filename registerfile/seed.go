package registerfile

// Scalar holding-register addresses for the aggregate pack quantities, below
// the per-cell region that starts at regmap.CellBase.
const (
	AddrSOC                = 1000
	AddrSOH                = 1002
	AddrTotalVoltage       = 1004
	AddrMaxTemperature     = 1006
	AddrCurrent            = 1008
	AddrAverageVoltage     = 1012
	AddrAverageTemperature = 1014
)

// Scalar addresses for the separate 30000-range coil-bank float region.
const (
	AddrAvgTempCoil  = 30003
	AddrAvgCellVCoil = 30005
	AddrPackVoltCoil = 30007
)

// scalarSeed pairs a scalar address with the raw register words the
// reference BMU master ships as its power-on snapshot.
type scalarSeed struct {
	addr   int
	hi, lo uint16
}

// defaultScalarSeeds mirrors the reference master's startup register
// contents so a freshly started gateway exposes plausible aggregate
// readings. The query cycle writes only the per-cell and per-sensor
// regions, so these scalars change only through Modbus writes.
// AddrAverageVoltage and AddrAverageTemperature are deliberately absent:
// the reference master's own startup snapshot never seeds them, so they
// stay zeroed.
var defaultScalarSeeds = []scalarSeed{
	{AddrSOC, 0x42B1, 0x0000},
	{AddrSOH, 0x42C5, 0x8000},
	{AddrTotalVoltage, 0x43C9, 0x999A},
	{AddrMaxTemperature, 0x41CC, 0x0000},
	{AddrCurrent, 0xC296, 0x0000},
	{AddrAvgTempCoil, 0x41CE, 0x6666},
	{AddrAvgCellVCoil, 0x4069, 0x999A},
	{AddrPackVoltCoil, 0x43C9, 0x999A},
}

// SeedDefaults writes the startup snapshot of aggregate scalar registers.
// It is a no-op for the per-cell and per-sensor regions, which start zeroed
// until the first successful query cycle.
func (f *File) SeedDefaults() error {
	for _, s := range defaultScalarSeeds {
		if err := f.WriteFloat(s.addr, s.hi, s.lo); err != nil {
			return err
		}
	}
	return nil
}
