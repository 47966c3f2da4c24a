package models

import "errors"

// ErrNotFound is returned by stores when a key or document does not
// exist. Callers distinguish "never written" from real failures with
// errors.Is.
var ErrNotFound = errors.New("not found")
