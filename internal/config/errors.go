package config

import "errors"

// ErrInvalidDuration is returned when a duration setting does not parse.
var ErrInvalidDuration = errors.New("invalid duration")
