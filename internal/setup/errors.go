package setup

import "errors"

// ErrAlreadyConfigured indicates the integration already completed setup
var ErrAlreadyConfigured = errors.New("integration already configured")
