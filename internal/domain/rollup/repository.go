package rollup

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
)

// CompletionRepository reads approved task completions.
type CompletionRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewCompletionRepository(db *sqlx.DB, timeout time.Duration) *CompletionRepository {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &CompletionRepository{db: db, timeout: timeout}
}

// ActiveCompleters returns distinct actors with an approved completion whose
// review time (else creation time) falls in [from, to).
func (r *CompletionRepository) ActiveCompleters(ctx context.Context, from, to time.Time) ([]string, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	refs := make([]string, 0)
	err := r.db.SelectContext(ctx2, &refs, `
		SELECT DISTINCT actor_ref
		FROM task_completions
		WHERE status = 'approved'
		  AND COALESCE(reviewed_at, created_at) >= $1
		  AND COALESCE(reviewed_at, created_at) < $2
	`, from, to)
	if err != nil {
		return nil, ledger.StoreError("active completers", err)
	}
	return refs, nil
}
