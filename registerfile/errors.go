package registerfile

import "errors"

// ErrOutOfRange is returned when a read or write span falls outside the
// backing array.
var ErrOutOfRange = errors.New("address out of range")
