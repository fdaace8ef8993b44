package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOption configures RedisStore.
type RedisOption func(*RedisConfig)

// RedisConfig holds the connection settings. Prefix namespaces every key so
// several deployments can share one database.
type RedisConfig struct {
	Options redis.Options
	Prefix  string
	// PingTimeout bounds the reachability check done by NewRedisStore.
	PingTimeout time.Duration
}

func defaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Options: redis.Options{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			PoolTimeout:  30 * time.Second,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Prefix:      "signalcore:",
		PingTimeout: 5 * time.Second,
	}
}

// WithRedisAddr sets host:port.
func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) { c.Options.Addr = addr }
}

// WithRedisAuth sets the password and database number.
func WithRedisAuth(password string, db int) RedisOption {
	return func(c *RedisConfig) {
		c.Options.Password = password
		c.Options.DB = db
	}
}

// WithRedisPool sizes the pool. Non-positive values keep the defaults.
func WithRedisPool(size, minIdle int) RedisOption {
	return func(c *RedisConfig) {
		if size > 0 {
			c.Options.PoolSize = size
		}
		if minIdle > 0 {
			c.Options.MinIdleConns = minIdle
		}
	}
}

// WithRedisTimeouts sets dial, read and write timeouts.
func WithRedisTimeouts(dial, read, write time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.Options.DialTimeout = dial
		c.Options.ReadTimeout = read
		c.Options.WriteTimeout = write
		c.PingTimeout = dial
	}
}

// WithRedisPrefix sets the key namespace.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}
