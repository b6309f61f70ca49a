package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/pkg/logger"
)

// EscalationAuditRepository persists the escalation ladder audit trail.
type EscalationAuditRepository interface {
	Record(ctx context.Context, audit *domain.EscalationAudit) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.EscalationAudit, error)
	ListByEscalation(ctx context.Context, escalationID string) ([]domain.EscalationAudit, error)
}

// CallResultRepository persists terminal call outcomes. Upsert keyed on
// call id keeps re-reports idempotent.
type CallResultRepository interface {
	Upsert(ctx context.Context, result *domain.CallResultLog) error
	GetByCallID(ctx context.Context, callID string) (*domain.CallResultLog, error)
}

// RepositoryManager bundles the repositories behind one seam.
type RepositoryManager interface {
	EscalationAudit() EscalationAuditRepository
	CallResult() CallResultRepository
	WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error
	Ping(ctx context.Context) error
	Close() error
}

// GormRepositoryManager is the Postgres-backed implementation.
type GormRepositoryManager struct {
	db *gorm.DB

	escalationAuditRepo EscalationAuditRepository
	callResultRepo      CallResultRepository
}

// NewRepositoryManager opens the database from a DSN, migrates the audit
// tables, and builds the repositories. GORM logs route through zap.
func NewRepositoryManager(dsn string) (*GormRepositoryManager, error) {
	gormLog := gormlogger.New(logger.NewGORMWriter(), gormlogger.Config{
		SlowThreshold: 500 * time.Millisecond,
		LogLevel:      gormlogger.Warn,
	})

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return NewGormRepositoryManager(db), nil
}

// NewGormRepositoryManager wires repositories onto an existing connection.
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:                  db,
		escalationAuditRepo: NewEscalationAuditRepo(db),
		callResultRepo:      NewCallResultRepo(db),
	}
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.EscalationAudit{},
		&domain.CallResultLog{},
	)
}

func (m *GormRepositoryManager) EscalationAudit() EscalationAuditRepository {
	return m.escalationAuditRepo
}

func (m *GormRepositoryManager) CallResult() CallResultRepository {
	return m.callResultRepo
}

// WithTx executes a function within a database transaction
func (m *GormRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		txManager := NewGormRepositoryManager(tx)
		return fn(ctx, txManager)
	})
}

func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
