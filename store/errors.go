package store

import "errors"

// errStoreClosed is returned by any operation after Close has run.
var errStoreClosed = errors.New("store: closed")
