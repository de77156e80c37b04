package postgres

import (
	"context"
	"database/sql"

	"estorage/internal/model"
	"estorage/internal/repository"
)

// UploadPostgres is a PostgreSQL implementation of repository.UploadRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type UploadPostgres struct {
	db *sql.DB
}

// NewUploadPostgres creates a new UploadPostgres repository.
func NewUploadPostgres(db *sql.DB) *UploadPostgres {
	return &UploadPostgres{db: db}
}

var _ repository.UploadRepository = (*UploadPostgres)(nil)

const uploadColumns = `id, db_name, archive_size, archive_sha256, layout_prefix, files, dirs, bytes, created_at`

// Create inserts a new upload row and returns the stored record.
func (r *UploadPostgres) Create(ctx context.Context, u *model.Upload) (*model.Upload, error) {
	const q = `
		INSERT INTO uploads (` + uploadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + uploadColumns
	row := r.db.QueryRowContext(ctx, q,
		u.ID,
		u.DBName,
		u.ArchiveSize,
		u.ArchiveSHA256,
		u.LayoutPrefix,
		u.Files,
		u.Dirs,
		u.Bytes,
		u.CreatedAt,
	)
	out, err := scanUpload(row)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns uploads using LIMIT/OFFSET pagination and a total count.
// The db_name filter is skipped when q.DBName is empty.
func (r *UploadPostgres) List(ctx context.Context, q repository.UploadQuery) (*repository.PageResult[model.Upload], error) {
	const qCount = `SELECT COUNT(*) FROM uploads WHERE ($1 = '' OR db_name = $1)`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, q.DBName).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT ` + uploadColumns + `
		FROM uploads
		WHERE ($1 = '' OR db_name = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, qList, q.DBName, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Upload, 0)
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Upload]{
		Items: items,
		Total: total,
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(s scanner) (*model.Upload, error) {
	var u model.Upload
	if err := s.Scan(
		&u.ID,
		&u.DBName,
		&u.ArchiveSize,
		&u.ArchiveSHA256,
		&u.LayoutPrefix,
		&u.Files,
		&u.Dirs,
		&u.Bytes,
		&u.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}
