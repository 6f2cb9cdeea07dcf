package gatewayconfig

import "errors"

// ErrConfig wraps any configuration load or validation failure. Fatal at
// startup.
var ErrConfig = errors.New("gatewayconfig")
