package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"fieldsurvey/api/internal/answers"
)

// ErrDuplicateInvoice is returned when an insert trips the global uniqueness
// constraint on invoice_number. Callers surface it as a distinct conflict,
// not a generic store failure.
var ErrDuplicateInvoice = errors.New("duplicate invoice number")

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, mall_name, password_hash, created_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.MallName, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, mall_name, password_hash, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.MallName, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, mall_name, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO NOTHING
	`, user.ID, user.Email, user.Name, user.Role, user.MallName, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSurveys(ctx context.Context, activeOnly bool) ([]Survey, error) {
	query := `
		SELECT id, title, is_active, created_at, updated_at
		FROM surveys
	`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	defer rows.Close()

	items := make([]Survey, 0)
	for rows.Next() {
		var item Survey
		if err := rows.Scan(&item.ID, &item.Title, &item.IsActive, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate surveys: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSurvey(ctx context.Context, surveyID string) (Survey, error) {
	var item Survey
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, is_active, created_at, updated_at
		FROM surveys
		WHERE id = $1
	`, surveyID).Scan(&item.ID, &item.Title, &item.IsActive, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Survey{}, err
	}
	return item, nil
}

// CreateSurveyWithQuestions inserts a survey and its initial question set as
// one unit. A failed question insert rolls the survey back, so a survey never
// exists without its schema.
func (s *PostgresStore) CreateSurveyWithQuestions(ctx context.Context, survey Survey, questions []Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create survey: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO surveys (id, title, is_active)
		VALUES ($1, $2, $3)
	`, survey.ID, survey.Title, survey.IsActive); err != nil {
		return fmt.Errorf("insert survey: %w", err)
	}

	if err := insertQuestions(ctx, tx, questions); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create survey: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetSurveyActive(ctx context.Context, surveyID string, active bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE surveys
		SET is_active = $2, updated_at = NOW()
		WHERE id = $1
	`, surveyID, active)
	if err != nil {
		return false, fmt.Errorf("set survey active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set survey active rows: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) ListQuestions(ctx context.Context, surveyID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, survey_id, question, type, options, required, order_index, created_at
		FROM survey_questions
		WHERE survey_id = $1
		ORDER BY order_index
	`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		var item Question
		var options []byte
		if err := rows.Scan(&item.ID, &item.SurveyID, &item.Question, &item.Type, &options, &item.Required, &item.OrderIndex, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if len(options) > 0 && string(options) != "null" {
			if err := json.Unmarshal(options, &item.Options); err != nil {
				return nil, fmt.Errorf("decode question options %s: %w", item.ID, err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

// ReplaceQuestions swaps the survey's full question set in one transaction:
// delete all, reinsert all. Old question IDs are gone after this, which is
// why answer bags must never be joined against the live schema.
func (s *PostgresStore) ReplaceQuestions(ctx context.Context, surveyID string, questions []Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace questions: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM survey_questions WHERE survey_id = $1`, surveyID); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}

	if err := insertQuestions(ctx, tx, questions); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE surveys SET updated_at = NOW() WHERE id = $1`, surveyID); err != nil {
		return fmt.Errorf("touch survey: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace questions: %w", err)
	}
	return nil
}

func insertQuestions(ctx context.Context, tx *sql.Tx, questions []Question) error {
	for _, q := range questions {
		var options any
		if q.Options != nil {
			encoded, err := json.Marshal(q.Options)
			if err != nil {
				return fmt.Errorf("encode question options: %w", err)
			}
			options = encoded
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO survey_questions (id, survey_id, question, type, options, required, order_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, q.ID, q.SurveyID, q.Question, q.Type, options, q.Required, q.OrderIndex); err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
	}
	return nil
}

// InsertSubmission writes one accepted submission. A unique violation on the
// invoice number surfaces as ErrDuplicateInvoice; everything else is opaque.
func (s *PostgresStore) InsertSubmission(ctx context.Context, sub Submission) (Submission, error) {
	answersJSON, err := json.Marshal(sub.Answers)
	if err != nil {
		return Submission{}, fmt.Errorf("encode answers: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO submissions
			(id, survey_id, worker_id, customer_name, customer_phone, cnic,
			 invoice_number, invoice_image_url, customer_image_url, answers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, sub.ID, sub.SurveyID, sub.WorkerID, sub.CustomerName, sub.CustomerPhone, sub.CNIC,
		sub.InvoiceNumber, sub.InvoiceImageURL, sub.CustomerImageURL, answersJSON,
	).Scan(&sub.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && strings.Contains(pgErr.ConstraintName, "invoice_number") {
			return Submission{}, ErrDuplicateInvoice
		}
		return Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	return sub, nil
}

const submissionJoinColumns = `
	s.id, s.survey_id, s.worker_id, s.customer_name, s.customer_phone, s.cnic,
	s.invoice_number, s.invoice_image_url, s.customer_image_url, s.answers, s.created_at,
	u.name, u.mall_name, sv.title
`

// ListSubmissions returns submissions newest-first with worker and survey
// display fields joined in, plus the unpaged total for the filter.
func (s *PostgresStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]SubmissionWithJoins, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	argN := 1

	if filter.SurveyID != "" {
		where = append(where, fmt.Sprintf("s.survey_id = $%d", argN))
		args = append(args, filter.SurveyID)
		argN++
	}
	if !filter.From.IsZero() {
		where = append(where, fmt.Sprintf("s.created_at >= $%d", argN))
		args = append(args, filter.From)
		argN++
	}
	if !filter.To.IsZero() {
		where = append(where, fmt.Sprintf("s.created_at <= $%d", argN))
		args = append(args, filter.To)
		argN++
	}

	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) OVER() AS total
		FROM submissions s
		JOIN users u ON u.id = s.worker_id
		JOIN surveys sv ON sv.id = s.survey_id
		WHERE %s
		ORDER BY s.created_at DESC
	`, submissionJoinColumns, strings.Join(where, " AND "))

	if filter.Limit > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argN, argN+1)
		args = append(args, filter.Limit, (page-1)*filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]SubmissionWithJoins, 0)
	total := 0
	for rows.Next() {
		item, rowTotal, err := scanSubmissionWithJoins(rows)
		if err != nil {
			return nil, 0, err
		}
		total = rowTotal
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, submissionID string) (SubmissionWithJoins, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s, 1 AS total
		FROM submissions s
		JOIN users u ON u.id = s.worker_id
		JOIN surveys sv ON sv.id = s.survey_id
		WHERE s.id = $1
	`, submissionJoinColumns), submissionID)

	item, _, err := scanSubmissionWithJoins(row)
	if err != nil {
		return SubmissionWithJoins{}, err
	}
	return item, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmissionWithJoins(row rowScanner) (SubmissionWithJoins, int, error) {
	var item SubmissionWithJoins
	var answersJSON []byte
	var total int
	err := row.Scan(
		&item.ID, &item.SurveyID, &item.WorkerID, &item.CustomerName, &item.CustomerPhone, &item.CNIC,
		&item.InvoiceNumber, &item.InvoiceImageURL, &item.CustomerImageURL, &answersJSON, &item.CreatedAt,
		&item.WorkerName, &item.MallName, &item.SurveyTitle, &total,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SubmissionWithJoins{}, 0, err
		}
		return SubmissionWithJoins{}, 0, fmt.Errorf("scan submission: %w", err)
	}
	if len(answersJSON) > 0 {
		if err := json.Unmarshal(answersJSON, &item.Answers); err != nil {
			return SubmissionWithJoins{}, 0, fmt.Errorf("decode answers %s: %w", item.ID, err)
		}
	} else {
		item.Answers = answers.NewBag()
	}
	return item, total, nil
}

// WorkerStats groups a survey's submissions by worker, busiest first.
func (s *PostgresStore) WorkerStats(ctx context.Context, surveyID string) ([]WorkerStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.worker_id, u.name, u.mall_name, COUNT(*) AS count
		FROM submissions s
		JOIN users u ON u.id = s.worker_id
		WHERE s.survey_id = $1
		GROUP BY s.worker_id, u.name, u.mall_name
		ORDER BY count DESC, u.name
	`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("worker stats: %w", err)
	}
	defer rows.Close()

	items := make([]WorkerStat, 0)
	for rows.Next() {
		var item WorkerStat
		if err := rows.Scan(&item.WorkerID, &item.Name, &item.MallName, &item.Count); err != nil {
			return nil, fmt.Errorf("scan worker stat: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate worker stats: %w", err)
	}
	return items, nil
}

// SummaryCounts feeds the admin dashboard header.
func (s *PostgresStore) SummaryCounts(ctx context.Context) (surveys, submissions, workers int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM surveys),
			(SELECT COUNT(*) FROM submissions),
			(SELECT COUNT(*) FROM users WHERE role = 'worker')
	`).Scan(&surveys, &submissions, &workers)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("summary counts: %w", err)
	}
	return surveys, submissions, workers, nil
}

// TimeRange converts the export/list date filter keywords into bounds.
// Recognized filters: all, today, week, month, custom (uses from/to).
func TimeRange(filter string, from, to time.Time, now time.Time) (time.Time, time.Time) {
	switch filter {
	case "today":
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return start, time.Time{}
	case "week":
		return now.AddDate(0, 0, -7), time.Time{}
	case "month":
		return now.AddDate(0, -1, 0), time.Time{}
	case "custom":
		return from, to
	default:
		return time.Time{}, time.Time{}
	}
}
