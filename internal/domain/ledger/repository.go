package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const defaultQueryTimeout = 3 * time.Second

// effectiveTimeSQL mirrors Entry.EffectiveTime.
const effectiveTimeSQL = `COALESCE(occurred_at, to_timestamp(occurred_at_ms / 1000.0), created_at)`

const entryColumns = `id, amount, kind, status, relation, actor_ref, counterparty_ref, location_ref,
	method, source, offer_id, occurred_at, occurred_at_ms, created_at, settled_at, fingerprint`

// Store is the ledger persistence contract.
type Store interface {
	Append(ctx context.Context, e *Entry) (bool, error)
	Get(ctx context.Context, id string) (*Entry, error)
	QueryByActor(ctx context.Context, actorRef string, q Query) ([]Entry, error)
	QueryByCounterparty(ctx context.Context, counterpartyRef string, q Query) ([]Entry, error)
	SetStatus(ctx context.Context, id string, to Status) (*Entry, error)
}

// Repository is the Postgres ledger store.
type Repository struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewRepository(db *sqlx.DB, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Repository{db: db, timeout: timeout}
}

// Append inserts e unless its id exists. An existing id with the same
// fingerprint returns created=false; a different fingerprint is ErrConflict.
// e must already be normalized.
func (r *Repository) Append(ctx context.Context, e *Entry) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.appendWith(ctx2, r.db, e)
}

// AppendTx appends within the caller's transaction. The caller commits.
func (r *Repository) AppendTx(ctx context.Context, tx *sqlx.Tx, e *Entry) (bool, error) {
	return r.appendWith(ctx, tx, e)
}

func (r *Repository) appendWith(ctx context.Context, q sqlx.QueryerContext, e *Entry) (bool, error) {
	var createdAt time.Time
	err := q.QueryRowxContext(ctx, `
		INSERT INTO ledger_entries (
			id, amount, kind, status, relation, actor_ref, counterparty_ref, location_ref,
			method, source, offer_id, occurred_at, occurred_at_ms, fingerprint, settled_at
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			CASE WHEN $4::text = 'settled' THEN now() END
		)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at
	`, e.ID, e.Amount, string(e.Kind), string(e.Status), string(e.Relation), e.ActorRef,
		e.CounterpartyRef, e.LocationRef, e.Method, e.Source, e.OfferID,
		e.OccurredAt, e.OccurredAtMs, e.Fingerprint,
	).Scan(&createdAt)
	if err == nil {
		e.CreatedAt = createdAt
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, StoreError("insert entry", err)
	}

	var existing string
	if err := sqlx.GetContext(ctx, q, &existing, `SELECT fingerprint FROM ledger_entries WHERE id = $1`, e.ID); err != nil {
		return false, StoreError("load existing entry", err)
	}
	if existing != e.Fingerprint {
		return false, ErrConflict
	}
	return false, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Entry, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var e Entry
	err := r.db.GetContext(ctx2, &e, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, StoreError("get entry", err)
	}
	return &e, nil
}

func (r *Repository) QueryByActor(ctx context.Context, actorRef string, q Query) ([]Entry, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.selectEntries(ctx2, r.db, "actor_ref", actorRef, q)
}

// QueryByActorTx reads the actor's entries inside the caller's transaction.
func (r *Repository) QueryByActorTx(ctx context.Context, tx *sqlx.Tx, actorRef string, q Query) ([]Entry, error) {
	return r.selectEntries(ctx, tx, "actor_ref", actorRef, q)
}

func (r *Repository) QueryByCounterparty(ctx context.Context, counterpartyRef string, q Query) ([]Entry, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.selectEntries(ctx2, r.db, "counterparty_ref", counterpartyRef, q)
}

func (r *Repository) selectEntries(ctx context.Context, q sqlx.QueryerContext, column, ref string, filter Query) ([]Entry, error) {
	query, args := buildQuery(column, ref, filter)

	entries := make([]Entry, 0)
	if err := sqlx.SelectContext(ctx, q, &entries, query, args...); err != nil {
		return nil, StoreError("select entries", err)
	}
	return entries, nil
}

// PlatformTotals sums settled earn and retire entries over all time and
// over [from, to) on effective time, in one aggregate query.
func (r *Repository) PlatformTotals(ctx context.Context, from, to time.Time) (*Totals, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row struct {
		MintedTotal     int64          `db:"minted_total"`
		MintedWindowed  int64          `db:"minted_windowed"`
		MintedLast      *time.Time     `db:"minted_last"`
		RetiredTotal    int64          `db:"retired_total"`
		RetiredWindowed int64          `db:"retired_windowed"`
		RetiredLast     *time.Time     `db:"retired_last"`
		ActiveEarners   pq.StringArray `db:"active_earners"`
	}
	err := r.db.GetContext(ctx2, &row, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE earn), 0)::bigint AS minted_total,
			COALESCE(SUM(amount) FILTER (WHERE earn AND eff >= $1 AND eff < $2), 0)::bigint AS minted_windowed,
			MAX(eff) FILTER (WHERE earn) AS minted_last,
			COALESCE(SUM(amount) FILTER (WHERE retire), 0)::bigint AS retired_total,
			COALESCE(SUM(amount) FILTER (WHERE retire AND eff >= $1 AND eff < $2), 0)::bigint AS retired_windowed,
			MAX(eff) FILTER (WHERE retire) AS retired_last,
			ARRAY_AGG(DISTINCT actor_ref) FILTER (WHERE earn AND eff >= $1 AND eff < $2) AS active_earners
		FROM (
			SELECT amount, actor_ref, `+effectiveTimeSQL+` AS eff,
				kind = 'MINT_ACTION' AND relation = 'EARNED' AS earn,
				kind IN ('BURN_REWARD', 'CONTRIBUTE') AND relation = 'SPENT' AS retire
			FROM ledger_entries
			WHERE status = 'settled'
		) e`, from, to)
	if err != nil {
		return nil, StoreError("platform totals", err)
	}

	return &Totals{
		Minted:        Sum{Total: row.MintedTotal, Windowed: row.MintedWindowed, LastAt: utc(row.MintedLast)},
		Retired:       Sum{Total: row.RetiredTotal, Windowed: row.RetiredWindowed, LastAt: utc(row.RetiredLast)},
		ActiveEarners: []string(row.ActiveEarners),
	}, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// SetStatus performs the single pending -> settled|failed transition.
// Repeating the transition that already happened is a no-op.
func (r *Repository) SetStatus(ctx context.Context, id string, to Status) (*Entry, error) {
	if to != StatusSettled && to != StatusFailed {
		return nil, ErrInvalidTransition
	}

	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var e Entry
	err := r.db.GetContext(ctx2, &e, `
		UPDATE ledger_entries
		SET status = $2,
		    settled_at = CASE WHEN $2::text = 'settled' THEN now() END
		WHERE id = $1 AND status = 'pending'
		RETURNING `+entryColumns, id, string(to))
	if err == nil {
		return &e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, StoreError("update status", err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != to {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}
	return current, nil
}

// buildQuery renders the filtered select. column may be empty for a
// platform-wide read.
func buildQuery(column, ref string, q Query) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + entryColumns + ` FROM ledger_entries WHERE 1=1`)

	args := make([]interface{}, 0, 6)
	idx := 1

	if column != "" {
		fmt.Fprintf(&sb, " AND %s = $%d", column, idx)
		args = append(args, ref)
		idx++
	}
	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			kinds[i] = string(k)
		}
		fmt.Fprintf(&sb, " AND kind = ANY($%d)", idx)
		args = append(args, pq.Array(kinds))
		idx++
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		fmt.Fprintf(&sb, " AND status = ANY($%d)", idx)
		args = append(args, pq.Array(statuses))
		idx++
	}
	if q.From != nil {
		fmt.Fprintf(&sb, " AND %s >= $%d", effectiveTimeSQL, idx)
		args = append(args, *q.From)
		idx++
	}
	if q.To != nil {
		fmt.Fprintf(&sb, " AND %s < $%d", effectiveTimeSQL, idx)
		args = append(args, *q.To)
		idx++
	}

	sb.WriteString(" ORDER BY " + effectiveTimeSQL + " ASC, id ASC")
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT $%d", idx)
		args = append(args, q.Limit)
	}
	return sb.String(), args
}
