package bus

import "errors"

// errBusClosed is returned by Subscribe once Close has run.
var errBusClosed = errors.New("bus: closed")
