package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fileconvert/models"

	_ "github.com/lib/pq"
)

const recordColumns = `id, user_id, status, original_file_name, source_format, target_format,
	original_file_url, converted_file_url, error_message, file_size, attempts, created_at, updated_at`

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(dsn string, maxOpenConns int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStoreWithDB(db), nil
}

func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (d *PostgresStore) DB() *sql.DB { return d.db }

func (d *PostgresStore) Create(ctx context.Context, rec *models.ConversionRecord) error {
	query := `INSERT INTO conversions (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`
	res, err := d.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, string(rec.Status), rec.OriginalFileName, rec.SourceFormat, rec.TargetFormat,
		rec.OriginalFileURL, rec.ConvertedFileURL, rec.ErrorMessage, rec.FileSize, rec.Attempts,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversion %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert conversion %s: %w", rec.ID, err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (d *PostgresStore) Get(ctx context.Context, id string) (*models.ConversionRecord, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM conversions WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversion %s: %w", id, err)
	}
	return rec, nil
}

func (d *PostgresStore) Transition(ctx context.Context, id string, from, to models.Status, upd models.RecordUpdate) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}

	query := `UPDATE conversions SET status = $1, updated_at = $2`
	args := []interface{}{string(to), d.now()}
	argIndex := 3

	if upd.ConvertedFileURL != nil {
		query += fmt.Sprintf(`, converted_file_url = $%d`, argIndex)
		args = append(args, *upd.ConvertedFileURL)
		argIndex++
	}
	if upd.ErrorMessage != nil {
		query += fmt.Sprintf(`, error_message = $%d`, argIndex)
		args = append(args, *upd.ErrorMessage)
		argIndex++
	}
	if upd.FileSize != nil {
		query += fmt.Sprintf(`, file_size = $%d`, argIndex)
		args = append(args, *upd.FileSize)
		argIndex++
	}
	if upd.Attempts != nil {
		query += fmt.Sprintf(`, attempts = $%d`, argIndex)
		args = append(args, *upd.Attempts)
		argIndex++
	}

	query += fmt.Sprintf(` WHERE id = $%d AND status = $%d`, argIndex, argIndex+1)
	args = append(args, id, string(from))

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition conversion %s %s -> %s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition conversion %s: %w", id, err)
	}
	return n == 1, nil
}

func (d *PostgresStore) ListStale(ctx context.Context, status models.Status, olderThan time.Time, limit int) ([]*models.ConversionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM conversions WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`,
		string(status), olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale conversions: %w", err)
	}
	defer rows.Close()

	var out []*models.ConversionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (d *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM conversions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversion %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete conversion %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *PostgresStore) Close() error {
	return d.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*models.ConversionRecord, error) {
	var (
		rec       models.ConversionRecord
		status    string
		userID    sql.NullString
		converted sql.NullString
		errMsg    sql.NullString
	)
	err := s.Scan(
		&rec.ID, &userID, &status, &rec.OriginalFileName, &rec.SourceFormat, &rec.TargetFormat,
		&rec.OriginalFileURL, &converted, &errMsg, &rec.FileSize, &rec.Attempts,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = models.Status(status)
	if userID.Valid {
		rec.UserID = &userID.String
	}
	if converted.Valid {
		rec.ConvertedFileURL = &converted.String
	}
	if errMsg.Valid {
		rec.ErrorMessage = &errMsg.String
	}
	return &rec, nil
}
