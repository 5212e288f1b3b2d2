// Package database owns the connection pool, per-operation transactions and
// schema migrations for the directory store.
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

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	// DriverSQLite selects the embedded SQLite driver.
	DriverSQLite = "sqlite"
	// DriverPostgres selects PostgreSQL through pgx.
	DriverPostgres = "postgres"

	defaultAcquireTimeout = 5 * time.Second
	defaultMaxOpenConns   = 10
	defaultSlowQuery      = 200 * time.Millisecond
)

var errConnReleased = errors.New("database: connection already released")

// Config describes how to reach the relational store.
type Config struct {
	Driver         string
	Path           string
	Host           string
	Port           int
	Name           string
	User           string
	Password       string
	SSLMode        string
	AcquireTimeout time.Duration
	MaxOpenConns   int
	Clock          func() time.Time
}

// Gateway is the process-wide pool. Every unit of work takes one connection
// from it and gives it back when done.
type Gateway struct {
	db             *gorm.DB
	sqlDB          *sql.DB
	acquireTimeout time.Duration
	logger         *zap.Logger
}

// Open creates the pool and verifies the store answers within the acquire
// timeout. A missing PostgreSQL password fails before any network I/O.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := newDialector(cfg)
	if err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
		TranslateError:         true,
		NowFunc: func() time.Time {
			return clock().UTC().Truncate(time.Microsecond)
		},
		Logger: NewGormLogger(logger, defaultSlowQuery),
	})
	if err != nil {
		return nil, classifyConnectError(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.Driver == DriverSQLite:
		sqlDB.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	default:
		sqlDB.SetMaxOpenConns(defaultMaxOpenConns)
	}

	acquireTimeout := cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	gateway := &Gateway{
		db:             db,
		sqlDB:          sqlDB,
		acquireTimeout: acquireTimeout,
		logger:         logger,
	}
	if err := gateway.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info("database connected",
		zap.String("driver", cfg.Driver),
		zap.String("target", describeTarget(cfg)))
	return gateway, nil
}

func newDialector(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errMissingPath
		}
		return sqlite.Open(cfg.Path), nil
	case DriverPostgres:
		if cfg.Password == "" {
			return nil, &ConnectError{Kind: MissingCredential, Err: errMissingPassword}
		}
		return postgres.New(postgres.Config{DSN: postgresDSN(cfg)}), nil
	case "":
		return nil, errMissingDriver
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", cfg.Driver)
	}
}

func postgresDSN(cfg Config) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = defaultAcquireTimeout
	}
	seconds := int(timeout.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	query.Set("connect_timeout", strconv.Itoa(seconds))
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/" + cfg.Name,
		RawQuery: query.Encode(),
	}
	return dsn.String()
}

func describeTarget(cfg Config) string {
	if cfg.Driver == DriverSQLite {
		return cfg.Path
	}
	return fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Name)
}

// DB exposes the pooled handle for schema management.
func (g *Gateway) DB() *gorm.DB {
	return g.db
}

// SQLDB exposes the pool for statistics collection.
func (g *Gateway) SQLDB() *sql.DB {
	return g.sqlDB
}

// Ping checks the store answers within the acquire timeout.
func (g *Gateway) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, g.acquireTimeout)
	defer cancel()
	if err := g.sqlDB.PingContext(pingCtx); err != nil {
		return classifyConnectError(err)
	}
	return nil
}

// Close shuts the pool down.
func (g *Gateway) Close() error {
	return g.sqlDB.Close()
}

// Acquire takes one connection within the acquire timeout and opens a
// transaction on it. The caller must Release the Conn.
func (g *Gateway) Acquire(ctx context.Context) (*Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, g.acquireTimeout)
	defer cancel()

	raw, err := g.sqlDB.Conn(acquireCtx)
	if err != nil {
		return nil, classifyConnectError(err)
	}
	tx, err := raw.BeginTx(ctx, nil)
	if err != nil {
		_ = raw.Close()
		return nil, classifyConnectError(err)
	}

	session := g.db.Session(&gorm.Session{NewDB: true, Context: ctx})
	session.Statement.ConnPool = tx
	return &Conn{raw: raw, tx: tx, db: session}, nil
}

// Do runs fn as one unit of work: it commits when fn succeeds and rolls back
// on error or panic. The connection is always returned to the pool.
func (g *Gateway) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	conn, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if err := fn(conn.DB()); err != nil {
		return err
	}
	return conn.Commit()
}

// Conn is a single pooled connection with an open transaction.
type Conn struct {
	mu       sync.Mutex
	raw      *sql.Conn
	tx       *sql.Tx
	db       *gorm.DB
	released bool
}

// DB returns a gorm session bound to the transaction.
func (c *Conn) DB() *gorm.DB {
	return c.db
}

// Commit commits the transaction and returns the connection to the pool.
func (c *Conn) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return errConnReleased
	}
	c.released = true
	err := c.tx.Commit()
	_ = c.raw.Close()
	return err
}

// Release rolls back an uncommitted transaction and returns the connection.
// Releasing twice, or after Commit, does nothing.
func (c *Conn) Release() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	_ = c.tx.Rollback()
	_ = c.raw.Close()
}
