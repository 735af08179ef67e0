package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its FS, dialect and logger in package state.
var gooseMu sync.Mutex

// gooseLogger routes goose output into zap.
type gooseLogger struct {
	log *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...any) { l.log.Infof(format, v...) }
func (l gooseLogger) Fatalf(format string, v ...any) { l.log.Fatalf(format, v...) }

// migrate applies the embedded migrations. It must run before the store takes
// its dedicated connection, since the pool holds a single connection.
func migrate(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{log: log.Named("migrate").Sugar()})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
