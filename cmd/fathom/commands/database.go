package commands

import (
	"database/sql"

	"github.com/fathomhq/fathom/config"
	"github.com/fathomhq/fathom/db"
	"github.com/fathomhq/fathom/errors"
	"github.com/fathomhq/fathom/logger"
)

// openDatabase opens and migrates a database using the specified path.
// If dbPath is empty, it loads from config. Uses logger.Logger for db operations.
func openDatabase(dbPath string) (*sql.DB, error) {
	// Determine database path
	if dbPath == "" {
		path, err := config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		if path == "" {
			dbPath = "fathom.db"
		} else {
			dbPath = path
		}
	}

	// Open database with logger
	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	// Run migrations with logger
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}
