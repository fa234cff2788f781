package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type AccountRecord struct {
	Address   string `gorm:"primaryKey;size:44"`
	Kind      string `gorm:"size:16;index"`
	Data      []byte
	Slot      uint64
	UpdatedAt time.Time
}

func (AccountRecord) TableName() string { return "accounts" }

type TxRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Slot      uint64 `gorm:"index"`
	Command   string `gorm:"size:32"`
	Signer    string `gorm:"size:44;index"`
	RoomID    string `gorm:"size:32;index"`
	Accepted  bool
	Error     string
	CreatedAt time.Time `gorm:"index"`
}

func (TxRecord) TableName() string { return "transactions" }

// SQL is a gorm backed Store for postgres, mysql and sqlite.
type SQL struct {
	db  *gorm.DB
	log *zap.Logger
}

func Open(driver, dsn string, log *zap.Logger) (*SQL, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&AccountRecord{}, &TxRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	log.Info("store ready", zap.String("driver", driver))
	return &SQL{db: db, log: log}, nil
}

func (s *SQL) Get(ctx context.Context, addr solana.PublicKey) (Account, error) {
	var rec AccountRecord
	err := s.db.WithContext(ctx).First(&rec, "address = ?", addr.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return Account{Address: addr, Kind: rec.Kind, Data: rec.Data, Slot: rec.Slot}, nil
}

func (s *SQL) Commit(ctx context.Context, tx Tx, accounts []Account) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if len(accounts) > 0 {
			recs := make([]AccountRecord, len(accounts))
			for i, a := range accounts {
				recs[i] = AccountRecord{
					Address:   a.Address.String(),
					Kind:      a.Kind,
					Data:      a.Data,
					Slot:      a.Slot,
					UpdatedAt: tx.CreatedAt,
				}
			}
			err := db.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "address"}},
				DoUpdates: clause.AssignmentColumns([]string{"kind", "data", "slot", "updated_at"}),
			}).Create(&recs).Error
			if err != nil {
				return fmt.Errorf("store: write accounts: %w", err)
			}
		}
		rec := TxRecord{
			ID:        tx.ID.String(),
			Slot:      tx.Slot,
			Command:   tx.Command,
			Signer:    tx.Signer,
			RoomID:    tx.RoomID,
			Accepted:  tx.Accepted,
			Error:     tx.Error,
			CreatedAt: tx.CreatedAt,
		}
		if err := db.Create(&rec).Error; err != nil {
			return fmt.Errorf("store: journal: %w", err)
		}
		return nil
	})
}

func (s *SQL) LatestSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := s.db.WithContext(ctx).Model(&TxRecord{}).
		Where("accepted = ?", true).
		Select("COALESCE(MAX(slot), 0)").
		Scan(&slot).Error
	return slot, err
}

func (s *SQL) Transactions(ctx context.Context, limit int) ([]Tx, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("slot DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []TxRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]Tx, 0, len(recs))
	for _, r := range recs {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			s.log.Warn("skipping journal entry with bad id", zap.String("id", r.ID))
			continue
		}
		out = append(out, Tx{
			ID:        id,
			Slot:      r.Slot,
			Command:   r.Command,
			Signer:    r.Signer,
			RoomID:    r.RoomID,
			Accepted:  r.Accepted,
			Error:     r.Error,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
