package registry

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Manager owns the registry's database connection and schema.
type Manager struct {
	db *gorm.DB
}

// NewManager opens a connection described by url, in the teacher's
// internal/database.Manager idiom: "sqlite://path" for an embedded dev
// database (github.com/glebarez/sqlite, a pure-Go driver with no cgo
// requirement) or "postgres://..." for a shared production backend.
func NewManager(url string) (*Manager, error) {
	var db *gorm.DB
	var err error

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn), TranslateError: true}

	switch {
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		db, err = gorm.Open(sqlite.Open(path), gormCfg)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		db, err = gorm.Open(postgres.Open(url), gormCfg)
	default:
		return nil, fmt.Errorf("registry: unsupported database url scheme in %q", url)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: connecting to database: %w", err)
	}
	return &Manager{db: db}, nil
}

// Initialize creates or migrates the registry schema.
func (m *Manager) Initialize() error {
	if err := m.db.AutoMigrate(&User{}, &Instance{}, &Delegate{}, &Permission{}, &InstanceSnapshot{}); err != nil {
		return fmt.Errorf("registry: migrating schema: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the underlying gorm handle for Store (the operations type
// layered on top of Manager in registry.go).
func (m *Manager) DB() *gorm.DB { return m.db }
