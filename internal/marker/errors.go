package marker

import "errors"

// ErrSessionRequired is returned when a marker operation has no session id
// to key on.
var ErrSessionRequired = errors.New("session id required for guardian marker")
