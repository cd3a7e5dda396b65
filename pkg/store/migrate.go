package store

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Migrator 数据库结构迁移
type Migrator struct {
	migrate *migrate.Migrate
}

// NewMigrator 创建迁移器；driver 决定使用哪一组迁移脚本
func NewMigrator(driver Driver, databaseURL string) (*Migrator, error) {
	dir, err := fs.Sub(migrationsFS, "migrations/"+string(driver))
	if err != nil {
		return nil, fmt.Errorf("访问迁移目录失败: %w", err)
	}
	source, err := iofs.New(dir, ".")
	if err != nil {
		return nil, fmt.Errorf("创建迁移源失败: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("创建迁移实例失败: %w", err)
	}
	return &Migrator{migrate: m}, nil
}

// Up 执行全部未应用的迁移
func (mm *Migrator) Up() error {
	if err := mm.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("执行迁移失败: %w", err)
	}
	return nil
}

// Version 当前版本
func (mm *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mm.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("读取迁移版本失败: %w", err)
	}
	return version, dirty, nil
}

func (mm *Migrator) Close() error {
	srcErr, dbErr := mm.migrate.Close()
	if srcErr != nil {
		return fmt.Errorf("关闭迁移源失败: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("关闭迁移数据库失败: %w", dbErr)
	}
	return nil
}

// sqliteURL 将文件路径转换为迁移驱动的 URL
func sqliteURL(path string) string {
	p := filepath.ToSlash(path)
	if filepath.IsAbs(path) && p[0] != '/' {
		p = "/" + p
	}
	return "sqlite://" + p
}

func migrateUp(driver Driver, databaseURL string) error {
	mm, err := NewMigrator(driver, databaseURL)
	if err != nil {
		return err
	}
	if err := mm.Up(); err != nil {
		mm.Close()
		return err
	}
	return mm.Close()
}
