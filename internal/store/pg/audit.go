package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"habar.org/internal/audit"
)

var _ audit.Store = (*Store)(nil)

// insertAudit appends an entry inside the caller's transaction. There
// is deliberately no standalone append: entries only ever ride along
// with the mutation they describe.
func insertAudit(ctx context.Context, tx *sql.Tx, entry *audit.Entry) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		insert into audit_log(id, admin_id, action, target_subject_id, metadata, origin, created_at)
		values ($1, $2, $3, nullif($4,''), $5, nullif($6,''), $7)
	`, entry.ID, entry.AdminID, entry.Action.String(), entry.TargetSubjectID, meta, entry.Origin, entry.CreatedAt)
	return err
}

// Query returns ledger entries newest first along with the total count
// matching the filter.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, int, error) {
	where := `where ($1 = '' or action = $1)
		and ($2::timestamptz is null or created_at >= $2)
		and ($3::timestamptz is null or created_at <= $3)`

	var from, to sql.NullTime
	if !filter.From.IsZero() {
		from = sql.NullTime{Time: filter.From, Valid: true}
	}
	if !filter.To.IsZero() {
		to = sql.NullTime{Time: filter.To, Valid: true}
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from audit_log `+where,
		filter.Action.String(), from, to,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	offset := (filter.Page - 1) * filter.Limit

	rows, err := s.db.QueryContext(ctx, `
		select id, admin_id, action, coalesce(target_subject_id,''), metadata, coalesce(origin,''), created_at
		from audit_log `+where+`
		order by created_at desc
		limit $4 offset $5
	`, filter.Action.String(), from, to, filter.Limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			entry audit.Entry
			meta  []byte
		)
		if err := rows.Scan(&entry.ID, &entry.AdminID, &entry.Action, &entry.TargetSubjectID, &meta, &entry.Origin, &entry.CreatedAt); err != nil {
			return nil, 0, err
		}
		entry.Metadata = map[string]string{}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &entry.Metadata); err != nil {
				return nil, 0, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}
