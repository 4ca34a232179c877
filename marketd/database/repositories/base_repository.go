package repositories

import (
	"database/sql"
	"errors"
	"fmt"
)

// oneRowAffected distinguishes a won conditional update (exactly one row)
// from an optimistic-concurrency loss (zero rows). The store is the sole
// race arbiter; no caller-side locking exists.
func oneRowAffected(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows == 1, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
