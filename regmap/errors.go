package regmap

import "errors"

// ErrInvalidAddress is returned by the Parse* functions when an address lies
// below the base of its register region.
var ErrInvalidAddress = errors.New("address below region base")
