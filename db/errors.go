package db

import (
	"strings"

	"github.com/teranos/vigil/errors"
)

// ErrClosed reports an operation against a database handle that was already
// shut down. The daemon closes the handle on exit while poll tickers may
// still be draining, so late snapshot writes are expected to land here.
var ErrClosed = errors.New("database is closed")

// IsClosed reports whether err means the handle is gone. The typed check
// covers errors wrapped or marked with ErrClosed; the text check covers raw
// database/sql errors ("sql: database is closed"), which expose no sentinel
// to compare against.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrClosed) || strings.Contains(err.Error(), "database is closed")
}
