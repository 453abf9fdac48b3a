package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a plainto_tsquery match against the submissions fts column,
// ranked by ts_rank with a ts_headline snippet over the customer name.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "s.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.SurveyID != "" {
		where += " AND s.survey_id = $2"
		args = append(args, q.SurveyID)
	}

	countSQL := fmt.Sprintf(`
		SELECT count(*)
		FROM submissions s
		WHERE %s`, where)

	dataSQL := fmt.Sprintf(`
		SELECT s.id, s.customer_name, s.invoice_number, u.name, s.survey_id, sv.title,
			ts_headline('english', s.customer_name, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM submissions s
		JOIN users u ON u.id = s.worker_id
		JOIN surveys sv ON sv.id = s.survey_id
		WHERE %s
		ORDER BY ts_rank(s.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.CustomerName, &r.InvoiceNumber, &r.WorkerName, &r.SurveyID, &r.SurveyTitle, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexed submission fields for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SubmissionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.survey_id, sv.title, s.customer_name, s.invoice_number, u.name,
			EXTRACT(EPOCH FROM s.created_at)::bigint
		FROM submissions s
		JOIN users u ON u.id = s.worker_id
		JOIN surveys sv ON sv.id = s.survey_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	defer rows.Close()

	records := make([]SubmissionRecord, 0)
	for rows.Next() {
		var r SubmissionRecord
		if err := rows.Scan(&r.ID, &r.SurveyID, &r.SurveyTitle, &r.CustomerName, &r.InvoiceNumber, &r.WorkerName, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return records, nil
}
