package catalog

import "errors"

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("not found")
