package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	migrate "github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrate применяет встроенные миграции из каталога dir в fsys к открытой базе
// и возвращает итоговую версию схемы. Повторный вызов безопасен:
// migrate.ErrNoChange ошибкой не считается.
//
// Работает через уже открытое соединение, поэтому подходит и для in-memory базы.
func Migrate(db *sql.DB, fsys fs.FS, dir string) (uint, error) {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("sqlite: migrations source: %w", err)
	}
	defer src.Close()

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("sqlite: migrations driver: %w", err)
	}

	// m.Close() не вызываем: драйвер закрыл бы db, которым владеет вызывающий.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("sqlite: migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("sqlite: apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("sqlite: migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("sqlite: schema is dirty at version %d", version)
	}
	return version, nil
}
