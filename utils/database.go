// utils/database.go
package utils

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// OpenDatabase opens postgres (default) or sqlite. sqlite is meant for local runs
// and tests, so it is pinned to a single connection.
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: newGormLogger(log.New(os.Stdout, "\r\n", log.LstdFlags))}

	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "postgres", "postgresql":
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	case "sqlite", "sqlite3":
		db, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", driver)
	}
}

// newGormLogger logs slow queries and real errors. Lookups that find nothing
// are normal here and stay quiet.
func newGormLogger(w gormLogger.Writer) gormLogger.Interface {
	return gormLogger.New(w, gormLogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormLogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
