package session

import "errors"

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("session registry closed")
