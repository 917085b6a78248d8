package sqlite

import (
	"errors"
	"strings"

	"github.com/JonMunkholm/immunoload/internal/core"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// mapError classifies a driver error: constraint violations become
// integrity errors and everything else a storage error.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConstraint(err) {
		return core.Integrity(op, err)
	}
	return core.Storage(op, err)
}

func isConstraint(err error) bool {
	var se *moderncsqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return true
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
