package quota

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// QuotaExceededError reports a rejected reservation. It is an expected
// business outcome, not a fault; no retry is useful until the date rolls
// over.
type QuotaExceededError struct {
	Tier      string
	Limit     int64
	Used      int64
	Requested int64
	Remaining int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d/%d words used, requested %d, remaining %d",
		e.Used, e.Limit, e.Requested, e.Remaining)
}

// IsQuotaExceeded reports whether err wraps a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// isUniqueConstraintError detects uniqueness violations across database
// vendors. The ledger hits one when two first-requests of the day race to
// create the same usage row; the loser retries against the committed row.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "constraint")
}
