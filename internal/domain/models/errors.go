package models

import "errors"

// ErrMalformed marks input that fails schema or range validation.
var ErrMalformed = errors.New("malformed event")
