package data

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultDatabaseURL keeps a local SQLite file next to the binary.
const DefaultDatabaseURL = "sqlite:///./proposals.db"

// Connect opens a gorm DB for a database URL. sqlite:// URLs select the
// embedded driver; mysql:// URLs and bare go-sql-driver DSNs select MySQL.
func Connect(url string, log *logrus.Entry) (*gorm.DB, error) {
	if strings.TrimSpace(url) == "" {
		url = DefaultDatabaseURL
	}

	gormLogger := logger.New(
		log.WithField("component", "gorm"),
		logger.Config{SlowThreshold: time.Second, LogLevel: logger.Warn, IgnoreRecordNotFoundError: true, Colorful: false},
	)
	cfg := &gorm.Config{Logger: gormLogger, TranslateError: true}

	switch {
	case strings.HasPrefix(url, "sqlite://"):
		db, err := gorm.Open(sqlite.Open(sqlitePath(url)), cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite allows one writer; a single connection serializes writes
		// instead of surfacing "database is locked".
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case strings.HasPrefix(url, "mysql://"):
		return openMySQL(strings.TrimPrefix(url, "mysql://"), cfg)
	case strings.Contains(url, "@tcp(") || strings.Contains(url, "@unix("):
		return openMySQL(url, cfg)
	default:
		return nil, fmt.Errorf("unsupported database url %q", url)
	}
}

func openMySQL(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	dsn = ensureParam(dsn, "parseTime", "true")
	if !strings.Contains(dsn, "charset=") {
		dsn = ensureParam(dsn, "charset", "utf8mb4")
		dsn = ensureParam(dsn, "collation", "utf8mb4_unicode_ci")
	}
	db, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	tunePool(sqlDB)
	return db, nil
}

func tunePool(sqlDB *sql.DB) {
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
}

// sqlitePath maps sqlite:///./x.db to ./x.db and sqlite:///:memory: to an
// in-memory database.
func sqlitePath(url string) string {
	path := strings.TrimPrefix(url, "sqlite://")
	path = strings.TrimPrefix(path, "/")
	if path == "" || path == ":memory:" {
		return "file::memory:?cache=shared"
	}
	return path
}

func ensureParam(dsn, key, val string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + val
}
