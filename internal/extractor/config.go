package extractor

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Driver selects the database/sql driver used for extraction
type Driver string

const (
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// IsValid checks if the driver is supported
func (d Driver) IsValid() bool {
	switch d {
	case DriverMySQL, DriverPostgres, DriverSQLite:
		return true
	default:
		return false
	}
}

// DatabaseConfig holds the connection parameters of the source store.
// For sqlite, Name is the database file path.
type DatabaseConfig struct {
	Driver         Driver        `json:"driver" mapstructure:"driver"`
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	User           string        `json:"user" mapstructure:"user"`
	Password       string        `json:"-" mapstructure:"password"`
	Name           string        `json:"name" mapstructure:"name"`
	SSLMode        string        `json:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
}

// DefaultDatabaseConfig returns settings for a local MySQL server
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Driver:         DriverMySQL,
		Host:           "localhost",
		Port:           3306,
		SSLMode:        "disable",
		ConnectTimeout: 5 * time.Second,
	}
}

// DefaultPort returns the conventional port of a driver
func DefaultPort(d Driver) int {
	switch d {
	case DriverPostgres:
		return 5432
	case DriverMySQL:
		return 3306
	default:
		return 0
	}
}

// Validate validates the database configuration
func (c *DatabaseConfig) Validate() error {
	if !c.Driver.IsValid() {
		return fmt.Errorf("unsupported driver: %s", c.Driver)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("database name is required")
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout cannot be negative")
	}
	if c.Driver == DriverSQLite {
		return nil
	}

	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.User) == "" {
		return fmt.Errorf("database user is required")
	}
	return nil
}

// DSN builds the driver-specific data source name
func (c *DatabaseConfig) DSN() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))

	switch c.Driver {
	case DriverMySQL:
		cfg := mysql.NewConfig()
		cfg.User = c.User
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = addr
		cfg.DBName = c.Name
		cfg.Timeout = c.ConnectTimeout
		return cfg.FormatDSN(), nil

	case DriverPostgres:
		query := url.Values{}
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		query.Set("sslmode", sslMode)
		if c.ConnectTimeout > 0 {
			query.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     addr,
			Path:     "/" + c.Name,
			RawQuery: query.Encode(),
		}
		return u.String(), nil

	case DriverSQLite:
		return c.Name, nil
	}

	return "", fmt.Errorf("unsupported driver: %s", c.Driver)
}

// Target describes the database without credentials, for logs and errors
func (c *DatabaseConfig) Target() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("sqlite:%s", c.Name)
	}
	return fmt.Sprintf("%s://%s@%s/%s", c.Driver, c.User, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Name)
}
