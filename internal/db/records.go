package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one original/target file pair logged by a comparison session.
// Records are immutable once inserted.
type Record struct {
	ID               int64     `json:"id" db:"id"`
	BatchID          string    `json:"batchId" db:"batch_id"`
	OriginalFilename string    `json:"originalFilename" db:"original_filename"`
	OriginalFilePath string    `json:"originalFilePath" db:"original_file_path"`
	TargetFilename   string    `json:"targetFilename" db:"target_filename"`
	TargetFilePath   string    `json:"targetFilePath" db:"target_file_path"`
	CreateTime       time.Time `json:"createTime" db:"create_time"`
	ClientIP         string    `json:"clientIp,omitempty" db:"client_ip"`
}

// HistoryEntry summarises one batch: its first create time and the distinct
// file names involved, comma joined and sorted.
type HistoryEntry struct {
	BatchID           string    `json:"batchId" db:"batch_id"`
	CreateTime        time.Time `json:"createTime" db:"create_time"`
	OriginalFilenames string    `json:"originalFilenames" db:"original_filenames"`
	TargetFilenames   string    `json:"targetFilenames" db:"target_filenames"`
}

// HistoryFilter narrows history queries. Zero values mean "no filter".
// StartDate and EndDate are inclusive calendar days.
type HistoryFilter struct {
	Filename  string
	StartDate time.Time
	EndDate   time.Time
}

// RecordRepository is the data-access contract used by the HTTP layer.
type RecordRepository interface {
	Insert(ctx context.Context, rec *Record) error
	History(ctx context.Context, f HistoryFilter, offset, limit int) ([]HistoryEntry, error)
	HistoryCount(ctx context.Context, f HistoryFilter) (int64, error)
	ByBatch(ctx context.Context, batchID string) ([]Record, error)
}

var ErrInvalidPage = errors.New("offset must be >= 0 and limit > 0")

// NewBatchID returns a 32 hex character identifier.
func NewBatchID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

type PostgresRecords struct {
	pool *pgxpool.Pool
}

func NewPostgresRecords(pool *pgxpool.Pool) *PostgresRecords {
	return &PostgresRecords{pool: pool}
}

var _ RecordRepository = (*PostgresRecords)(nil)

// Insert stores rec and fills its ID. A missing batch id or create time is
// generated here so every persisted row has both.
func (p *PostgresRecords) Insert(ctx context.Context, rec *Record) error {
	if strings.TrimSpace(rec.BatchID) == "" {
		rec.BatchID = NewBatchID()
	}
	if rec.CreateTime.IsZero() {
		rec.CreateTime = time.Now()
	}

	query := `
	INSERT INTO comparison_records (
		batch_id, original_filename, original_file_path,
		target_filename, target_file_path, create_time, client_ip
	) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	RETURNING id;`

	err := p.pool.QueryRow(ctx, query,
		rec.BatchID,
		rec.OriginalFilename,
		rec.OriginalFilePath,
		rec.TargetFilename,
		rec.TargetFilePath,
		rec.CreateTime,
		rec.ClientIP,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("error inserting comparison record: %w", err)
	}
	return nil
}

// History returns one entry per batch matching f, newest batch first.
func (p *PostgresRecords) History(ctx context.Context, f HistoryFilter, offset, limit int) ([]HistoryEntry, error) {
	if offset < 0 || limit <= 0 {
		return nil, ErrInvalidPage
	}

	where, args := historyWhere(f)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`
	SELECT
		batch_id,
		MIN(create_time) AS create_time,
		COALESCE(string_agg(DISTINCT original_filename, ',' ORDER BY original_filename), '') AS original_filenames,
		COALESCE(string_agg(DISTINCT target_filename, ',' ORDER BY target_filename), '') AS target_filenames
	FROM comparison_records
	%s
	GROUP BY batch_id
	ORDER BY MIN(create_time) DESC, batch_id
	LIMIT $%d OFFSET $%d;`, where, len(args)-1, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying history: %w", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByName[HistoryEntry])
	if err != nil {
		return nil, fmt.Errorf("error scanning history: %w", err)
	}
	return entries, nil
}

// HistoryCount returns the number of distinct batches matching f.
func (p *PostgresRecords) HistoryCount(ctx context.Context, f HistoryFilter) (int64, error) {
	where, args := historyWhere(f)
	query := `SELECT COUNT(DISTINCT batch_id) FROM comparison_records ` + where

	var total int64
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("error counting history: %w", err)
	}
	return total, nil
}

// ByBatch returns the records of one batch in insertion order.
func (p *PostgresRecords) ByBatch(ctx context.Context, batchID string) ([]Record, error) {
	query := `
	SELECT id, batch_id, original_filename, original_file_path,
		target_filename, target_file_path, create_time,
		COALESCE(client_ip, '') AS client_ip
	FROM comparison_records
	WHERE batch_id = $1
	ORDER BY id;`

	rows, err := p.pool.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("error querying batch %s: %w", batchID, err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[Record])
	if err != nil {
		return nil, fmt.Errorf("error scanning batch %s: %w", batchID, err)
	}
	return records, nil
}

// historyWhere builds the shared WHERE clause of the history queries.
// Values are always bound as parameters.
func historyWhere(f HistoryFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if name := strings.TrimSpace(f.Filename); name != "" {
		ph := next("%" + escapeLike(name) + "%")
		conds = append(conds, fmt.Sprintf(
			`(original_filename ILIKE %[1]s ESCAPE '\' OR target_filename ILIKE %[1]s ESCAPE '\')`, ph))
	}
	if !f.StartDate.IsZero() {
		conds = append(conds, "create_time >= "+next(startOfDay(f.StartDate)))
	}
	if !f.EndDate.IsZero() {
		conds = append(conds, "create_time < "+next(startOfDay(f.EndDate).AddDate(0, 0, 1)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
