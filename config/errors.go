package config

import "errors"

// ErrInvalidConfig is returned when an environment variable is present
// but fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")
