package database

import (
	"os"
	"regexp"
	"strings"
	"sync"
)

var (
	driverMu     sync.RWMutex
	activeDriver string
)

// setActiveDriver records the driver Connect opened so placeholder
// conversion follows the live connection's dialect.
func setActiveDriver(driver string) {
	driverMu.Lock()
	activeDriver = strings.ToLower(driver)
	driverMu.Unlock()
}

// GetDBDriver returns the driver of the active connection. Before Connect
// runs (unit tests against sqlmock) the TEST_DB_DRIVER env var decides,
// defaulting to mysql.
func GetDBDriver() string {
	driverMu.RLock()
	driver := activeDriver
	driverMu.RUnlock()
	if driver == "" {
		driver = strings.ToLower(os.Getenv("TEST_DB_DRIVER"))
	}
	if driver == "" {
		driver = "mysql"
	}
	return driver
}

// IsMySQL returns true if using MySQL/MariaDB
func IsMySQL() bool {
	driver := GetDBDriver()
	return driver == "mysql" || driver == "mariadb"
}

// IsPostgreSQL returns true if using PostgreSQL
func IsPostgreSQL() bool {
	return GetDBDriver() == "postgres"
}

var placeholderPattern = regexp.MustCompile(`\$\d+`)

// ConvertPlaceholders converts PostgreSQL placeholders ($1, $2) to MySQL
// placeholders (?). Queries are written in PostgreSQL format and converted
// for MySQL and SQLite at execution time.
func ConvertPlaceholders(query string) string {
	if IsPostgreSQL() {
		return query
	}
	return placeholderPattern.ReplaceAllString(query, "?")
}
