package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"calendar-service/internal/calendar"
	"calendar-service/internal/domain"
	"calendar-service/internal/store/migrations"
)

var errDuplicate = errors.New("duplicate appointment id")

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores appointments in PostgreSQL.
type Postgres struct {
	DB *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{DB: db}
}

var _ calendar.Store = (*Postgres)(nil)

// Connect opens a pool and checks it is reachable.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(p.DB)
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// InTx runs fn in a transaction that commits when fn returns nil.
func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx calendar.Tx) error) (err error) {
	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.Persistence("begin", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = domain.Persistence("commit", cerr)
		}
	}()

	err = fn(ctx, &pgTx{q: tx})
	return err
}

func (p *Postgres) Get(ctx context.Context, contextID, id int64) (domain.Appointment, error) {
	return get(ctx, p.DB, contextID, id, false)
}

func (p *Postgres) ListOverlapping(ctx context.Context, contextID int64, users, resources []int64, from, to time.Time) ([]domain.Appointment, error) {
	return listOverlapping(ctx, p.DB, contextID, users, resources, from, to)
}

func (p *Postgres) CountByCreator(ctx context.Context, contextID, userID int64) (int, error) {
	q := `SELECT count(*) FROM appointments
	      WHERE context_id=$1 AND created_by=$2 AND (recurrence_id=0 OR recurrence_id=id)`
	var n int
	if err := p.DB.QueryRow(ctx, q, contextID, userID).Scan(&n); err != nil {
		return 0, domain.Persistence("count", err)
	}
	return n, nil
}

type pgTx struct {
	q querier
}

func (t *pgTx) NextID(ctx context.Context, contextID int64) (int64, error) {
	q := `INSERT INTO id_sequences (context_id, last_id) VALUES ($1, 1)
	      ON CONFLICT (context_id) DO UPDATE SET last_id = id_sequences.last_id + 1
	      RETURNING last_id`
	var id int64
	if err := t.q.QueryRow(ctx, q, contextID).Scan(&id); err != nil {
		return 0, domain.Persistence("next id", err)
	}
	return id, nil
}

func (t *pgTx) Load(ctx context.Context, contextID, id int64) (domain.Appointment, error) {
	return get(ctx, t.q, contextID, id, true)
}

func (t *pgTx) FindException(ctx context.Context, contextID, masterID int64, date time.Time) (domain.Appointment, error) {
	q := `SELECT ` + columns + ` FROM appointments
	      WHERE context_id=$1 AND recurrence_id=$2 AND id<>$2 AND recurrence_date_position=$3
	      FOR UPDATE`
	a, err := scanOne(t.q.QueryRow(ctx, q, contextID, masterID, date.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Appointment{}, domain.NotFound()
	}
	if err != nil {
		return domain.Appointment{}, domain.Persistence("find exception", err)
	}
	return a, nil
}

func (t *pgTx) ListExceptions(ctx context.Context, contextID, masterID int64) ([]domain.Appointment, error) {
	q := `SELECT ` + columns + ` FROM appointments
	      WHERE context_id=$1 AND recurrence_id=$2 AND id<>$2
	      ORDER BY start_at, id`
	return scanAll(t.q.Query(ctx, q, contextID, masterID))
}

func (t *pgTx) Insert(ctx context.Context, a *domain.Appointment) error {
	args, err := values(a)
	if err != nil {
		return domain.Persistence("insert", err)
	}
	q := `INSERT INTO appointments (` + columns + `, span_end, member_ids, resource_ids)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,
	              $20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33)`
	if _, err := t.q.Exec(ctx, q, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Persistence("insert", errDuplicate)
		}
		return domain.Persistence("insert", err)
	}
	return nil
}

// Update overwrites the row if its last_modified still equals expected.
func (t *pgTx) Update(ctx context.Context, a *domain.Appointment, expected time.Time) error {
	args, err := values(a)
	if err != nil {
		return domain.Persistence("update", err)
	}
	q := `UPDATE appointments SET
	        title=$3, location=$4, note=$5, label=$6, shown_as=$7, start_at=$8, end_at=$9,
	        full_day=$10, timezone=$11, recurrence_id=$12, pattern=$13, recurrence_position=$14,
	        recurrence_date_position=$15, change_exceptions=$16, delete_exceptions=$17,
	        series_end=$18, duration_days=$19, sequence=$20, created_at=$21, last_modified=$22,
	        created_by=$23, modified_by=$24, folder_id=$25, folder_type=$26,
	        shared_folder_owner=$27, private=$28, participants=$29, users=$30,
	        span_end=$31, member_ids=$32, resource_ids=$33
	      WHERE context_id=$1 AND id=$2 AND last_modified=$34`
	tag, err := t.q.Exec(ctx, q, append(args, expected.UTC())...)
	if err != nil {
		return domain.Persistence("update", err)
	}
	if tag.RowsAffected() == 0 {
		var one int
		err := t.q.QueryRow(ctx, `SELECT 1 FROM appointments WHERE context_id=$1 AND id=$2`, a.ContextID, a.ID).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NotFound()
		}
		return domain.OptimisticConflict()
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, contextID, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM appointments WHERE context_id=$1 AND id=$2`, contextID, id)
	if err != nil {
		return domain.Persistence("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound()
	}
	return nil
}

func (t *pgTx) Backup(ctx context.Context, a *domain.Appointment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return domain.Persistence("backup", err)
	}
	q := `INSERT INTO appointment_backups (context_id, id, payload) VALUES ($1,$2,$3)`
	if _, err := t.q.Exec(ctx, q, a.ContextID, a.ID, payload); err != nil {
		return domain.Persistence("backup", err)
	}
	return nil
}

func (t *pgTx) ListOverlapping(ctx context.Context, contextID int64, users, resources []int64, from, to time.Time) ([]domain.Appointment, error) {
	return listOverlapping(ctx, t.q, contextID, users, resources, from, to)
}

const columns = `context_id, id, title, location, note, label, shown_as, start_at, end_at,
	full_day, timezone, recurrence_id, pattern, recurrence_position, recurrence_date_position,
	change_exceptions, delete_exceptions, series_end, duration_days, sequence, created_at,
	last_modified, created_by, modified_by, folder_id, folder_type, shared_folder_owner,
	private, participants, users`

func get(ctx context.Context, q querier, contextID, id int64, lock bool) (domain.Appointment, error) {
	sql := `SELECT ` + columns + ` FROM appointments WHERE context_id=$1 AND id=$2`
	if lock {
		sql += ` FOR UPDATE`
	}
	a, err := scanOne(q.QueryRow(ctx, sql, contextID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Appointment{}, domain.NotFound()
	}
	if err != nil {
		return domain.Appointment{}, domain.Persistence("load", err)
	}
	return a, nil
}

func listOverlapping(ctx context.Context, q querier, contextID int64, users, resources []int64, from, to time.Time) ([]domain.Appointment, error) {
	if users == nil {
		users = []int64{}
	}
	if resources == nil {
		resources = []int64{}
	}
	sql := `SELECT ` + columns + ` FROM appointments
	        WHERE context_id=$1
	          AND (member_ids && $2 OR resource_ids && $3)
	          AND start_at < $5
	          AND (span_end IS NULL OR span_end > $4)
	        ORDER BY start_at, id`
	return scanAll(q.Query(ctx, sql, contextID, users, resources, from.UTC(), to.UTC()))
}

func scanAll(rows pgx.Rows, err error) ([]domain.Appointment, error) {
	if err != nil {
		return nil, domain.Persistence("query", err)
	}
	defer rows.Close()

	var out []domain.Appointment
	for rows.Next() {
		a, err := scanOne(rows)
		if err != nil {
			return nil, domain.Persistence("scan", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("query", err)
	}
	return out, nil
}

func scanOne(row pgx.Row) (domain.Appointment, error) {
	var (
		a                     domain.Appointment
		pattern, parts, users []byte
		datePos, seriesEnd    *time.Time
		folderType            string
	)
	err := row.Scan(&a.ContextID, &a.ID, &a.Title, &a.Location, &a.Note, &a.Label, &a.ShownAs,
		&a.Start, &a.End, &a.FullDay, &a.Timezone, &a.RecurrenceID, &pattern,
		&a.RecurrencePosition, &datePos, &a.ChangeExceptions, &a.DeleteExceptions, &seriesEnd,
		&a.DurationDays, &a.Sequence, &a.CreatedAt, &a.LastModified, &a.CreatedBy, &a.ModifiedBy,
		&a.FolderID, &folderType, &a.SharedFolderOwner, &a.Private, &parts, &users)
	if err != nil {
		return domain.Appointment{}, err
	}
	a.FolderType = domain.FolderType(folderType)
	if datePos != nil {
		a.RecurrenceDatePosition = datePos.UTC()
	}
	if seriesEnd != nil {
		a.SeriesEnd = seriesEnd.UTC()
	}
	a.Start, a.End = a.Start.UTC(), a.End.UTC()
	a.CreatedAt, a.LastModified = a.CreatedAt.UTC(), a.LastModified.UTC()
	a.ChangeExceptions = utc(a.ChangeExceptions)
	a.DeleteExceptions = utc(a.DeleteExceptions)

	if len(pattern) > 0 && string(pattern) != "null" {
		a.Pattern = &domain.Pattern{}
		if err := json.Unmarshal(pattern, a.Pattern); err != nil {
			return domain.Appointment{}, fmt.Errorf("decode pattern: %w", err)
		}
	}
	if err := json.Unmarshal(parts, &a.Participants); err != nil {
		return domain.Appointment{}, fmt.Errorf("decode participants: %w", err)
	}
	if err := json.Unmarshal(users, &a.Users); err != nil {
		return domain.Appointment{}, fmt.Errorf("decode users: %w", err)
	}
	return a, nil
}

// values returns the insert arguments in column order followed by span_end,
// member_ids and resource_ids.
func values(a *domain.Appointment) ([]any, error) {
	var pattern []byte
	if !a.Pattern.IsZero() {
		b, err := json.Marshal(a.Pattern)
		if err != nil {
			return nil, err
		}
		pattern = b
	}
	parts, err := json.Marshal(nonNil(a.Participants))
	if err != nil {
		return nil, err
	}
	members := make([]int64, len(a.Users))
	for i, u := range a.Users {
		members[i] = u.UserID
	}
	users, err := json.Marshal(nonNil(a.Users))
	if err != nil {
		return nil, err
	}
	resources := a.Resources()
	if resources == nil {
		resources = []int64{}
	}

	spanEnd := nullTime(a.End)
	if a.IsMaster() {
		spanEnd = nullTime(a.SeriesEnd)
	}

	return []any{
		a.ContextID, a.ID, a.Title, a.Location, a.Note, a.Label, a.ShownAs,
		a.Start.UTC(), a.End.UTC(), a.FullDay, a.Timezone, a.RecurrenceID, pattern,
		a.RecurrencePosition, nullTime(a.RecurrenceDatePosition),
		utc(nonNil(a.ChangeExceptions)), utc(nonNil(a.DeleteExceptions)), nullTime(a.SeriesEnd),
		a.DurationDays, a.Sequence, a.CreatedAt.UTC(), a.LastModified.UTC(), a.CreatedBy, a.ModifiedBy,
		a.FolderID, string(a.FolderType), a.SharedFolderOwner, a.Private, parts, users,
		spanEnd, members, resources,
	}, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func utc(ts []time.Time) []time.Time {
	if ts == nil {
		return nil
	}
	out := make([]time.Time, len(ts))
	for i, t := range ts {
		out[i] = t.UTC()
	}
	return out
}
