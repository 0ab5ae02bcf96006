// Package database はPostgreSQL接続と、バイナリに埋め込んだスキーマの
// マイグレーションを扱う。
package database

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var migrationName = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)

// SchemaState はデータベースに適用済みのスキーマの状態。
type SchemaState struct {
	Version uint
	// Dirty は前回のマイグレーションが途中で失敗したことを示す。
	Dirty bool
	// Latest はバイナリに埋め込まれた最新のバージョン。
	Latest uint
}

// UpToDate は最新のスキーマが正常に適用されているかを返す。
func (s SchemaState) UpToDate() bool {
	return !s.Dirty && s.Version == s.Latest
}

// LatestVersion は埋め込まれたマイグレーションの最新バージョンを返す。
// upとdownが揃っていないファイルがある場合はエラー。
func LatestVersion() (uint, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	pairs := make(map[uint]int)
	var latest uint
	for _, e := range entries {
		m := migrationName.FindStringSubmatch(e.Name())
		if m == nil {
			return 0, fmt.Errorf("unexpected migration file %q", e.Name())
		}
		n, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid migration number in %q: %w", e.Name(), err)
		}
		v := uint(n)
		pairs[v]++
		if v > latest {
			latest = v
		}
	}
	for v, count := range pairs {
		if count != 2 {
			return 0, fmt.Errorf("migration %06d must have both up and down files", v)
		}
	}
	return latest, nil
}

// NewMigrator は埋め込みマイグレーションを使うmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用する。
func RunMigrations(databaseURL string) error {
	_, err := MigrateUp(databaseURL)
	return err
}

// MigrateUp は未適用のマイグレーションをすべて適用し、適用後の状態を返す。
// すでに最新の場合もエラーにしない。
func MigrateUp(databaseURL string) (SchemaState, error) {
	return withMigrator(databaseURL, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		return nil
	})
}

// MigrateDown はstepsだけマイグレーションを戻し、戻した後の状態を返す。
func MigrateDown(databaseURL string, steps int) (SchemaState, error) {
	if steps <= 0 {
		return SchemaState{}, fmt.Errorf("steps must be positive, got %d", steps)
	}
	return withMigrator(databaseURL, func(m *migrate.Migrate) error {
		if err := m.Steps(-steps); err != nil {
			return fmt.Errorf("failed to roll back %d migration(s): %w", steps, err)
		}
		return nil
	})
}

// CurrentSchema は変更を加えずに現在の状態を返す。
func CurrentSchema(databaseURL string) (SchemaState, error) {
	return withMigrator(databaseURL, func(*migrate.Migrate) error { return nil })
}

func withMigrator(databaseURL string, fn func(m *migrate.Migrate) error) (SchemaState, error) {
	latest, err := LatestVersion()
	if err != nil {
		return SchemaState{}, err
	}
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return SchemaState{}, err
	}
	defer m.Close()

	if err := fn(m); err != nil {
		return SchemaState{}, err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaState{Latest: latest}, nil
	}
	if err != nil {
		return SchemaState{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return SchemaState{Version: version, Dirty: dirty, Latest: latest}, nil
}
