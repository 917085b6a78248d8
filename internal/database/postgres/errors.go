package postgres

import (
	"errors"
	"strings"

	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/jackc/pgx/v5/pgconn"
)

// mapError turns integrity constraint violations (SQLSTATE class 23) into
// integrity errors and everything else into storage errors.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return core.Integrity(op, err)
	}
	return core.Storage(op, err)
}
