package balancing

import "errors"

// ErrInvalidCell is returned when a requested cell index falls outside
// 1..CellsPerPack.
var ErrInvalidCell = errors.New("cell index outside 1..104")
