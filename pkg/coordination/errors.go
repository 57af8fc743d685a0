package coordination

import (
	"errors"

	"github.com/go-zookeeper/zk"
)

// ErrNodeAbsent is returned when an operation targets a path that does not
// exist in the coordination store.
var ErrNodeAbsent = errors.New("coordination: node absent")

// ErrNodeExists is returned by Create when the target path already exists.
// Callers use it as a CAS signal rather than a failure.
var ErrNodeExists = errors.New("coordination: node already exists")

// translate maps the underlying zk client's sentinel errors onto the
// package's own, so callers never import go-zookeeper/zk directly.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return ErrNodeAbsent
	case errors.Is(err, zk.ErrNodeExists):
		return ErrNodeExists
	default:
		return err
	}
}
