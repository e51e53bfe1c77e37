package transfers

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// WAL journal mode so readers do not block the writer, and a busy timeout
// instead of immediate SQLITE_BUSY errors.
const connOpts = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// Open opens the SQLite database at path, creating the file if it does not
// exist. Table creation happens in NewRepository, not here.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(
		sqlite.Open(fmt.Sprintf("file:%s?%s", path, connOpts)),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	return db, nil
}
