// Package conn opens the PostgreSQL pool behind the order and position store.
package conn

import (
	"context"
	"log"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	defaultSlowQuery      = 200 * time.Millisecond
	defaultConnectTimeout = 5 * time.Second
	appNameKey            = "application_name"
)

// Settings locate the database of one trader. DSN, in URL or keyword form,
// overrides Endpoint.
type Settings struct {
	DSN      string
	Endpoint Endpoint
	Pool     Pool

	// AppName is reported to the server as application_name unless the DSN
	// already sets one; ops fills in the trader id.
	AppName        string
	ConnectTimeout time.Duration
	SlowQuery      time.Duration
}

type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Pool limits; zero keeps the database/sql default.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// Client owns the gorm handle of a store.
type Client struct {
	db *gorm.DB
}

// Open connects lazily: the first query or Ping dials the server. Driver
// errors are translated to gorm sentinels such as gorm.ErrDuplicatedKey.
func Open(s Settings) (*Client, error) {
	dsn, err := s.dsn()
	if err != nil {
		return nil, err
	}

	slow := s.SlowQuery
	if slow <= 0 {
		slow = defaultSlowQuery
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(log.New(os.Stderr, "[store] ", log.LstdFlags), gormlogger.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open postgres").With("database", s.Endpoint.Database)
	}

	pool, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "postgres pool")
	}
	if s.Pool.MaxOpen > 0 {
		pool.SetMaxOpenConns(s.Pool.MaxOpen)
	}
	if s.Pool.MaxIdle > 0 {
		pool.SetMaxIdleConns(s.Pool.MaxIdle)
	}
	if s.Pool.MaxLifetime > 0 {
		pool.SetConnMaxLifetime(s.Pool.MaxLifetime)
	}
	return &Client{db: db}, nil
}

// DB is nil on a nil client.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

func (c *Client) Ping(ctx context.Context) error {
	pool, err := c.db.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

// Close releases the pool. Safe on a nil client.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	pool, err := c.db.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// dsn renders the keyword form, e.g. "host=db port=5432 dbname=execution".
// The result is checked with the pgx parser so a bad value fails at startup.
func (s Settings) dsn() (string, error) {
	out := strings.TrimSpace(s.DSN)
	if out == "" {
		out = s.Endpoint.keywords(s.connectTimeout())
	}
	out = withAppName(out, s.AppName)

	if _, err := pgconn.ParseConfig(out); err != nil {
		return "", errors.Wrap(err, "parse postgres dsn").With("host", s.Endpoint.Host)
	}
	return out, nil
}

func (s Settings) connectTimeout() time.Duration {
	if s.ConnectTimeout > 0 {
		return s.ConnectTimeout
	}
	return defaultConnectTimeout
}

func (e Endpoint) keywords(timeout time.Duration) string {
	kv := map[string]string{
		"host":            e.Host,
		"user":            e.User,
		"password":        e.Password,
		"dbname":          e.Database,
		"sslmode":         e.SSLMode,
		"connect_timeout": strconv.Itoa(max(1, int(timeout.Round(time.Second)/time.Second))),
	}
	if e.Port > 0 {
		kv["port"] = strconv.Itoa(e.Port)
	}
	if kv["host"] == "" {
		kv["host"] = "localhost"
	}
	if kv["sslmode"] == "" {
		kv["sslmode"] = "disable"
	}

	keys := make([]string, 0, len(kv))
	for k, v := range kv {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quoteValue(kv[k]))
	}
	return strings.Join(parts, " ")
}

// quoteValue follows libpq: single quotes around values with spaces, and
// backslash before embedded quotes and backslashes.
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func withAppName(dsn, app string) string {
	if app == "" || strings.Contains(dsn, appNameKey+"=") {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + appNameKey + "=" + url.QueryEscape(app)
	}
	return dsn + " " + appNameKey + "=" + quoteValue(app)
}
