package database

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/replyflow-io/replyflow/internal/config"
)

var (
	db   *sql.DB
	once sync.Once
	mu   sync.RWMutex
)

// Connect opens a pooled connection for the configured driver.
func Connect(cfg *config.DatabaseConfig) (*sql.DB, error) {
	driver := normalizeDriver(cfg.Driver)
	setActiveDriver(driver)
	conn, err := sql.Open(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		conn.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	return conn, nil
}

// Init establishes the process-wide connection once.
func Init(cfg *config.DatabaseConfig) error {
	var err error
	once.Do(func() {
		var conn *sql.DB
		conn, err = Connect(cfg)
		if err != nil {
			return
		}
		mu.Lock()
		db = conn
		mu.Unlock()
	})
	return err
}

// GetDB returns the process-wide connection established by Init.
func GetDB() (*sql.DB, error) {
	mu.RLock()
	defer mu.RUnlock()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return db, nil
}

func normalizeDriver(driver string) string {
	switch driver {
	case "postgres", "postgresql":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite3"
	default:
		return "mysql"
	}
}
