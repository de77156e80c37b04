package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"estorage/internal/config"
)

// ApplicationName tags audit connections in pg_stat_activity.
const ApplicationName = "estorage"

// ErrAuditDisabled is returned when no audit database host is configured.
var ErrAuditDisabled = errors.New("upload audit database is not configured")

var sqlOpen = sql.Open

// pingTimeout bounds the connectivity checks made at startup and by /health.
var pingTimeout = 5 * time.Second

var (
	registerOnce sync.Once
	driverName   string
	registerErr  error
)

// BuildPostgresDSN renders the audit database URL. Port falls back to 5432;
// the server-side connect timeout follows pingTimeout.
func BuildPostgresDSN(c config.DatabaseConfig) (string, error) {
	if !c.Enabled() {
		return "", ErrAuditDisabled
	}
	var missing []string
	if c.User == "" {
		missing = append(missing, "user")
	}
	if c.Name == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("audit database: missing %s", strings.Join(missing, ", "))
	}

	port := c.Port
	if port == "" {
		port = "5432"
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, port),
		Path:   c.Name,
		User:   url.User(c.User),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}

	q := url.Values{}
	q.Set("application_name", ApplicationName)
	q.Set("connect_timeout", strconv.Itoa(max(1, int(pingTimeout/time.Second))))
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// tracedDriver registers the otelsql wrapper around pgx once per process.
func tracedDriver() (string, error) {
	registerOnce.Do(func() {
		driverName, registerErr = otelsql.Register("pgx",
			otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
			otelsql.WithSQLCommenter(true),
		)
	})
	return driverName, registerErr
}

// NewPostgres opens the upload audit database through the traced pgx driver
// and verifies it within pingTimeout.
func NewPostgres(ctx context.Context, c config.DatabaseConfig) (*sql.DB, error) {
	dsn, err := BuildPostgresDSN(c)
	if err != nil {
		return nil, err
	}

	name, err := tracedDriver()
	if err != nil {
		return nil, fmt.Errorf("register traced driver: %w", err)
	}

	db, err := sqlOpen(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	applyPool(db, c)

	if err := Ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}

	return db, nil
}

func applyPool(db *sql.DB, c config.DatabaseConfig) {
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetimeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetimeSec) * time.Second)
	}
}

// Ping checks connectivity, giving up after pingTimeout or when ctx ends.
func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return db.PingContext(ctx)
}
