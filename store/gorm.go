package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cloudx-io/openbidding/core"
	"github.com/cloudx-io/openbidding/internal/logger"
)

// The auction record lives in three tables. Config and status each hold a
// single row with id 1.
// Amounts never exceed core.MaxAmount, so they fit a signed BIGINT column.
type configModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement:false"`
	Owner     string `gorm:"not null"`
	Commodity string `gorm:"not null"`
}

func (configModel) TableName() string { return "auction_config" }

type statusModel struct {
	ID       uint   `gorm:"primaryKey;autoIncrement:false"`
	State    string `gorm:"not null"`
	Winner   string
	Payout   uint64 `gorm:"not null"`
	Contract string
	Version  string
}

func (statusModel) TableName() string { return "auction_status" }

type entryModel struct {
	Bidder         string `gorm:"primaryKey"`
	Amount         uint64 `gorm:"not null"`
	CommissionPaid uint64 `gorm:"not null"`
	Seq            uint64 `gorm:"not null;uniqueIndex"`
}

func (entryModel) TableName() string { return "ledger_entries" }

const singletonID = 1

// GormStore keeps the record in a SQL database through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm connection and migrates the schema.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&configModel{}, &statusModel{}, &entryModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// OpenGorm connects to the database described by cfg.
func OpenGorm(cfg Config, log *zap.Logger, logLevel string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.NewGormLogger(log, logger.GormLevel(logLevel)),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		// sqlite serializes writers anyway, and ":memory:" databases exist
		// per connection.
		sqlDB.SetMaxOpenConns(1)
	}

	return NewGormStore(db)
}

// Open returns the Store selected by cfg.Driver. An empty driver means memory.
func Open(cfg Config, log *zap.Logger, logLevel string) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	default:
		return OpenGorm(cfg, log, logLevel)
	}
}

func (s *GormStore) View(ctx context.Context, fn func(Reader) error) error {
	return fn(&gormTx{db: s.db.WithContext(ctx)})
}

func (s *GormStore) Update(ctx context.Context, fn func(Writer) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

type gormTx struct {
	db *gorm.DB
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (tx *gormTx) LoadConfig() (core.Config, error) {
	var m configModel
	if err := tx.db.First(&m, singletonID).Error; err != nil {
		return core.Config{}, notFound(err)
	}
	return core.Config{Owner: core.Identity(m.Owner), Commodity: m.Commodity}, nil
}

func (tx *gormTx) LoadStatus() (core.Status, error) {
	var m statusModel
	if err := tx.db.First(&m, singletonID).Error; err != nil {
		return core.Status{}, notFound(err)
	}
	return core.Status{
		State:   core.State(m.State),
		Winner:  core.Identity(m.Winner),
		Payout:  core.Amount(m.Payout),
		Name:    m.Contract,
		Version: m.Version,
	}, nil
}

func (tx *gormTx) GetEntry(id core.Identity) (core.LedgerEntry, error) {
	var m entryModel
	if err := tx.db.Where("bidder = ?", string(id)).First(&m).Error; err != nil {
		return core.LedgerEntry{}, notFound(err)
	}
	return m.toDomain(), nil
}

func (tx *gormTx) Entries() ([]core.LedgerEntry, error) {
	var models []entryModel
	if err := tx.db.Order("seq asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]core.LedgerEntry, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (tx *gormTx) SaveConfig(c core.Config) error {
	m := configModel{ID: singletonID, Owner: string(c.Owner), Commodity: c.Commodity}
	return tx.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (tx *gormTx) SaveStatus(s core.Status) error {
	m := statusModel{
		ID:       singletonID,
		State:    string(s.State),
		Winner:   string(s.Winner),
		Payout:   uint64(s.Payout),
		Contract: s.Name,
		Version:  s.Version,
	}
	return tx.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (tx *gormTx) SetEntry(e core.LedgerEntry) error {
	m := entryModel{
		Bidder:         string(e.Bidder),
		Amount:         uint64(e.Amount),
		CommissionPaid: uint64(e.CommissionPaid),
		Seq:            e.Seq,
	}
	return tx.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (m entryModel) toDomain() core.LedgerEntry {
	return core.LedgerEntry{
		Bidder:         core.Identity(m.Bidder),
		Amount:         core.Amount(m.Amount),
		CommissionPaid: core.Amount(m.CommissionPaid),
		Seq:            m.Seq,
	}
}
