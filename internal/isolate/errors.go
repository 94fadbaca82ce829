package isolate

import "errors"

var errNotOurHandle = errors.New("isolate: handle not created by this backend")
