package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig holds ClickHouse connection settings.
type ClientConfig struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	HTTP         bool
	MaxOpen      int
	MaxIdle      int
	MaxLifetime  time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	MaxExecution time.Duration
}

func defaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Port:        9000,
		Database:    "default",
		User:        "default",
		MaxOpen:     10,
		MaxIdle:     5,
		MaxLifetime: 5 * time.Minute,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 10 * time.Second,
	}
}

// options maps the config onto the driver's connection options.
func (c *ClientConfig) options() *ch.Options {
	opts := &ch.Options{
		Protocol: ch.Native,
		Addr:     []string{net.JoinHostPort(c.Host, strconv.Itoa(c.Port))},
		Auth: ch.Auth{
			Database: c.Database,
			Username: c.User,
			Password: c.Password,
		},
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		MaxOpenConns:    c.MaxOpen,
		MaxIdleConns:    c.MaxIdle,
		ConnMaxLifetime: c.MaxLifetime,
	}
	if c.HTTP {
		opts.Protocol = ch.HTTP
	}
	if c.MaxExecution > 0 {
		opts.Settings = ch.Settings{"max_execution_time": int(c.MaxExecution.Seconds())}
	}
	return opts
}

// Client owns a ClickHouse connection pool exposed through database/sql.
type Client struct {
	db       *sql.DB
	database string
}

// NewClient opens the pool and pings the server.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("clickhouse: host is required")
	}

	db := ch.OpenDB(cfg.options())
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{db: db, database: cfg.Database}, nil
}

func (c *Client) DB() *sql.DB { return c.db }

func (c *Client) Database() string { return c.database }

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func WithHost(host string) ClientOption {
	return func(c *ClientConfig) { c.Host = host }
}

func WithPort(port int) ClientOption {
	return func(c *ClientConfig) { c.Port = port }
}

func WithDatabase(database string) ClientOption {
	return func(c *ClientConfig) { c.Database = database }
}

func WithCredentials(user, password string) ClientOption {
	return func(c *ClientConfig) {
		c.User = user
		c.Password = password
	}
}

// WithMaxConnections sizes the pool.
func WithMaxConnections(maxOpen, maxIdle int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxOpen = maxOpen
		c.MaxIdle = maxIdle
	}
}

// WithTimeouts sets dial and read timeouts.
func WithTimeouts(dial, read time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.DialTimeout = dial
		c.ReadTimeout = read
	}
}

// WithHTTP switches from the native protocol to HTTP.
func WithHTTP(enabled bool) ClientOption {
	return func(c *ClientConfig) { c.HTTP = enabled }
}

// WithMaxExecutionTime caps server-side query time.
func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.MaxExecution = d }
}
