//go:build !linux

package transport

import (
	"github.com/msjae/bioingest/errors"
)

// ListenRFCOMM is only available on Linux.
func ListenRFCOMM(_ int, _ int) (Listener, error) {
	return nil, errors.WrapFatal(errors.ErrUnsupported, "transport", "ListenRFCOMM", "open rfcomm socket")
}
