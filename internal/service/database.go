package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"estorage/internal/database"
	"estorage/internal/errs"
	"estorage/internal/model"
	"estorage/internal/repository"
	"estorage/internal/store"
)

var ErrReaderNil = errors.New("reader is nil")

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// UploadListResult is the service-level DTO for paginated upload history.
type UploadListResult struct {
	Items []model.Upload `json:"data"`
	Total int            `json:"total"`
}

// PathResult is what lives at a path inside a database: either a directory
// listing or an open file. The caller closes File.
type PathResult struct {
	Entries []model.DirEntry
	File    *os.File
	Info    fs.FileInfo
}

// IsDir reports whether the result is a listing.
func (r *PathResult) IsDir() bool { return r.File == nil }

// DatabaseService defines the use cases for handling named databases.
type DatabaseService interface {
	// List returns the names of all stored databases.
	List(ctx context.Context) ([]string, error)

	// Upload replaces database name with the zip bundle read from r.
	Upload(ctx context.Context, name string, r io.Reader) (*model.UploadResult, error)

	// GetPath resolves rel inside database name. An empty rel lists the root.
	GetPath(ctx context.Context, name, rel string) (*PathResult, error)

	// ListUploads returns the upload history, newest first. It is empty when
	// no audit database is configured.
	ListUploads(ctx context.Context, db string, limit, offset int) (*UploadListResult, error)

	// Ping checks the store directory and, when configured, the audit database.
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the database service. Only Store is required.
type Deps struct {
	Store   *store.Store
	Uploads repository.UploadRepository
	DB      *sql.DB
	Metrics *Metrics
	Log     *zap.Logger
}

type databaseService struct {
	store   *store.Store
	uploads repository.UploadRepository
	db      *sql.DB
	metrics *Metrics
	log     *zap.Logger
	tracer  trace.Tracer
}

// NewDatabaseService constructs a new DatabaseService.
func NewDatabaseService(d Deps) DatabaseService {
	if d.Metrics == nil {
		d.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &databaseService{
		store:   d.Store,
		uploads: d.Uploads,
		db:      d.DB,
		metrics: d.Metrics,
		log:     d.Log,
		tracer:  otel.Tracer("estorage/internal/service"),
	}
}

func (s *databaseService) List(ctx context.Context) ([]string, error) {
	_, span := s.tracer.Start(ctx, "DatabaseService.List")
	defer span.End()

	names, err := s.store.ListDatabases()
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("estorage.databases", len(names)))
	return names, nil
}

func (s *databaseService) Upload(ctx context.Context, name string, r io.Reader) (*model.UploadResult, error) {
	if r == nil {
		return nil, ErrReaderNil
	}
	ctx, span := s.tracer.Start(ctx, "DatabaseService.Upload",
		trace.WithAttributes(attribute.String("estorage.db", strings.TrimSpace(name))))
	defer span.End()

	start := time.Now()
	res, err := s.store.Upload(ctx, name, r)
	s.metrics.duration.Observe(time.Since(start).Seconds())
	if err != nil {
		recordError(span, err)
		if errs.IsClient(err) {
			s.metrics.uploads.WithLabelValues(resultRejected).Inc()
			s.log.Info("upload_rejected", zap.String("db", name), zap.Error(err))
		} else {
			s.metrics.uploads.WithLabelValues(resultError).Inc()
			s.log.Error("upload_failed", zap.String("db", name), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.uploads.WithLabelValues(resultOK).Inc()
	s.metrics.extracted.Add(float64(res.Files))
	span.SetAttributes(
		attribute.String("estorage.layout_prefix", res.Prefix),
		attribute.Int("estorage.files", res.Files),
		attribute.Int64("estorage.archive_size", res.ArchiveSize),
	)
	s.log.Info("upload_stored",
		zap.String("db", res.DB),
		zap.String("layout_prefix", res.Prefix),
		zap.Int("files", res.Files),
		zap.Int("dirs", res.Dirs),
		zap.Int64("bytes", res.Bytes),
		zap.Int64("archive_size", res.ArchiveSize),
		zap.String("archive_sha256", res.ArchiveSHA256),
	)

	s.audit(ctx, res)
	return res, nil
}

// audit records a successful upload. The upload already happened, so
// failures are only logged.
func (s *databaseService) audit(ctx context.Context, res *model.UploadResult) {
	if s.uploads == nil {
		return
	}
	_, err := s.uploads.Create(ctx, &model.Upload{
		ID:            uuid.New().String(),
		DBName:        res.DB,
		ArchiveSize:   res.ArchiveSize,
		ArchiveSHA256: res.ArchiveSHA256,
		LayoutPrefix:  res.Prefix,
		Files:         res.Files,
		Dirs:          res.Dirs,
		Bytes:         res.Bytes,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn("upload_audit_failed", zap.String("db", res.DB), zap.Error(err))
	}
}

func (s *databaseService) GetPath(ctx context.Context, name, rel string) (*PathResult, error) {
	_, span := s.tracer.Start(ctx, "DatabaseService.GetPath", trace.WithAttributes(
		attribute.String("estorage.db", name),
		attribute.String("estorage.path", rel),
	))
	defer span.End()

	node, err := s.store.Stat(name, rel)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if node.IsDir {
		entries, err := s.store.ListDirectory(name, rel)
		if err != nil {
			recordError(span, err)
			return nil, err
		}
		return &PathResult{Entries: entries}, nil
	}
	f, info, err := s.store.ReadFile(name, rel)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("estorage.file_size", info.Size()))
	return &PathResult{File: f, Info: info}, nil
}

func (s *databaseService) ListUploads(ctx context.Context, db string, limit, offset int) (*UploadListResult, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	if s.uploads == nil {
		return &UploadListResult{Items: []model.Upload{}}, nil
	}

	res, err := s.uploads.List(ctx, repository.UploadQuery{
		PageQuery: repository.PageQuery{Limit: limit, Offset: offset},
		DBName:    strings.TrimSpace(db),
	})
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return &UploadListResult{Items: res.Items, Total: res.Total}, nil
}

func (s *databaseService) Ping(ctx context.Context) error {
	if err := s.store.Ping(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if s.db != nil {
		if err := database.Ping(ctx, s.db); err != nil {
			return fmt.Errorf("audit db: %w", err)
		}
	}
	return nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
