package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/in-nis/school-portal/internal/models"
)

var ErrNotFound = errors.New("db: record not found")

type Store struct {
	DB *gorm.DB
}

func Open(dsn string) (*Store, error) {
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// AutoMigrate will create/update tables automatically
	if err := conn.AutoMigrate(&models.Term{}, &models.SessionSnapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Println("✅ Database connected and migrated")
	return &Store{DB: conn}, nil
}

func (s *Store) Ping() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) ListTerms(ctx context.Context) ([]models.Term, error) {
	var terms []models.Term
	if err := s.DB.WithContext(ctx).Order("session, start_date").Find(&terms).Error; err != nil {
		return nil, err
	}
	return terms, nil
}

// ReplaceTerms swaps the whole calendar in one transaction.
func (s *Store) ReplaceTerms(ctx context.Context, terms []models.Term) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Term{}).Error; err != nil {
			return err
		}
		if len(terms) == 0 {
			return nil
		}
		return tx.Create(&terms).Error
	})
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	var snap models.SessionSnapshot
	err := s.DB.WithContext(ctx).Where("id = ? AND expires_at > ?", id, time.Now()).First(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &snap, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snap models.SessionSnapshot) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&snap).Error
}

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Where("id = ?", id).Delete(&models.SessionSnapshot{}).Error
}

func (s *Store) PurgeExpiredSnapshots(ctx context.Context, now time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.SessionSnapshot{})
	return res.RowsAffected, res.Error
}
