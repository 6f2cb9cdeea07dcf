package canframe

import "errors"

var (
	// ErrInvalidIdentifier is returned when a CAN ID does not fit in 11 bits.
	ErrInvalidIdentifier = errors.New("invalid CAN identifier")

	// ErrFrameSize is returned when a telemetry frame's payload is not 64 bytes.
	ErrFrameSize = errors.New("telemetry frame must be 64 bytes")

	// ErrUndefinedTemperature describes a voltage for which the NTC formula
	// is undefined. VoltageToCelsius reports that case with ok=false and
	// does not return this error.
	ErrUndefinedTemperature = errors.New("thermistor voltage outside the NTC conversion domain")
)
