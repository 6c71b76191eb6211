////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Handles low level database control and interfaces

package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// Can be provided to SQLite to create a temporary, in-memory DB.
	temporaryDbPath = "file:%s?mode=memory&cache=shared"

	// Determines maximum runtime of DB queries.
	dbTimeout = 3 * time.Second
)

// memoryDbCounter keeps the names of in-memory databases unique within the
// process.
var memoryDbCounter uint64

// newContext builds a context for database operations.
func newContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), dbTimeout)
}

// sqlStore implements Store on top of gorm and SQLite.
type sqlStore struct {
	db *gorm.DB

	// rmw serialises read-modify-write cycles
	rmw sync.Mutex
}

// NewStore opens the SQLite database at dbFilePath, creating the schema if
// needed. An empty path opens a private in-memory database.
func NewStore(dbFilePath string) (Store, error) {
	return newStore(dbFilePath)
}

func newStore(dbFilePath string) (*sqlStore, error) {
	useTemporary := len(dbFilePath) == 0
	if useTemporary {
		name := fmt.Sprintf("parley-%d-%d", netTime.Now().UnixNano(),
			atomic.AddUint64(&memoryDbCounter, 1))
		dbFilePath = fmt.Sprintf(temporaryDbPath, name)
		jww.WARN.Printf("[SQL] No database file path specified! " +
			"Using temporary in-memory database")
	}

	// Create the database connection
	db, err := gorm.Open(sqlite.Open(dbFilePath), &gorm.Config{
		Logger: logger.New(jww.TRACE, logger.Config{LogLevel: logger.Info}),
	})
	if err != nil {
		return nil, errors.Errorf(
			"Unable to initialize database backend: %+v", err)
	}

	// Enable foreign keys because they are disabled in SQLite by default
	if err = db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}

	sqlDb, err := db.DB()
	if err != nil {
		return nil, errors.Errorf(
			"Unable to configure database connection pool: %+v", err)
	}

	if useTemporary {
		// A shared-cache memory database disappears with its last
		// connection, so keep exactly one open for the store's lifetime.
		sqlDb.SetMaxOpenConns(1)
		sqlDb.SetMaxIdleConns(1)
	} else {
		// Enable Write Ahead Logging to enable multiple DB connections
		if err = db.Exec("PRAGMA journal_mode = WAL;").Error; err != nil {
			return nil, err
		}
		sqlDb.SetMaxIdleConns(5)
		sqlDb.SetMaxOpenConns(10)
		sqlDb.SetConnMaxIdleTime(5 * time.Minute)
		sqlDb.SetConnMaxLifetime(10 * time.Minute)
	}

	// Initialize the database schema
	err = db.AutoMigrate(&Contact{}, &Discussion{}, &Message{},
		&PendingAnnouncement{}, &PendingMessage{})
	if err != nil {
		return nil, errors.Errorf("failed to migrate database schema: %+v", err)
	}

	jww.INFO.Println("[SQL] Database backend initialized successfully!")
	return &sqlStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *sqlStore) Close() error {
	sqlDb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}

// wrapErr maps gorm lookups that matched nothing to ErrNotFound.
func wrapErr(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.WithMessagef(ErrNotFound, format, args...)
	}
	return errors.Errorf(format+": %+v", append(args, err)...)
}
