package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"activation-relay/internal/model"
)

// ActivationStore persists machines and their activation records.
type ActivationStore struct {
	db *gorm.DB
}

func NewActivationStore(db *gorm.DB) *ActivationStore {
	return &ActivationStore{db: db}
}

// FindConfirmation returns the confirmation ID stored for the installation and
// product pair on any machine. The earliest record wins when several exist.
func (s *ActivationStore) FindConfirmation(ctx context.Context, installationID, extendedProductID string) (string, bool, error) {
	var records []model.ActivationRecord
	err := s.db.WithContext(ctx).
		Where("installation_id = ? AND extended_product_id = ?", installationID, extendedProductID).
		Order("license_acquisition_date ASC").
		Limit(1).
		Find(&records).Error
	if err != nil {
		return "", false, fmt.Errorf("find activation record: %w", err)
	}
	if len(records) == 0 {
		return "", false, nil
	}
	return records[0].ConfirmationID, true, nil
}

// FindOrCreateMachine returns the ID of the machine named hostname, inserting
// it first if it does not exist. Concurrent callers converge on one row.
func (s *ActivationStore) FindOrCreateMachine(ctx context.Context, hostname string) (uint, error) {
	db := s.db.WithContext(ctx)

	machine := model.Machine{Hostname: hostname}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hostname"}},
		DoNothing: true,
	}).Create(&machine).Error
	if err != nil {
		return 0, fmt.Errorf("create machine: %w", err)
	}
	if machine.ID != 0 {
		return machine.ID, nil
	}

	if err := db.Where("hostname = ?", hostname).Take(&machine).Error; err != nil {
		return 0, fmt.Errorf("find machine: %w", err)
	}
	return machine.ID, nil
}

// InsertRecord stores a new record. A record for the same machine,
// installation and product fails with an error matching IsDuplicate.
func (s *ActivationStore) InsertRecord(ctx context.Context, record *model.ActivationRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("insert activation record: %w", err)
	}
	return nil
}

// DeleteMachine removes the machine and, by cascade, its records. It reports
// whether a machine was found.
func (s *ActivationStore) DeleteMachine(ctx context.Context, hostname string) (bool, error) {
	res := s.db.WithContext(ctx).Where("hostname = ?", hostname).Delete(&model.Machine{})
	if res.Error != nil {
		return false, fmt.Errorf("delete machine: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListMachines pages through machines ordered by hostname, each with its
// records newest first. An empty search matches every hostname.
func (s *ActivationStore) ListMachines(ctx context.Context, search string, page, pageSize int) ([]model.Machine, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	filtered := func() *gorm.DB {
		query := s.db.WithContext(ctx).Model(&model.Machine{})
		if search != "" {
			query = query.Where("instr(hostname, ?) > 0", search)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count machines: %w", err)
	}

	var machines []model.Machine
	err := filtered().
		Preload("ActivationRecords", func(db *gorm.DB) *gorm.DB {
			return db.Order("license_acquisition_date DESC")
		}).
		Order("hostname ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&machines).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list machines: %w", err)
	}
	return machines, total, nil
}

// Statistics summarizes stored activations. Daily counts cover the given
// number of days up to and including today, in UTC.
func (s *ActivationStore) Statistics(ctx context.Context, days int) (*model.ActivationStatistics, error) {
	db := s.db.WithContext(ctx)
	stats := &model.ActivationStatistics{RecordsByProduct: make(map[string]int64)}

	if err := db.Model(&model.Machine{}).Count(&stats.TotalMachines).Error; err != nil {
		return nil, fmt.Errorf("count machines: %w", err)
	}
	if err := db.Model(&model.ActivationRecord{}).Count(&stats.TotalRecords).Error; err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	var byProduct []struct {
		ExtendedProductID string
		Count             int64
	}
	err := db.Model(&model.ActivationRecord{}).
		Select("extended_product_id, count(*) AS count").
		Group("extended_product_id").
		Scan(&byProduct).Error
	if err != nil {
		return nil, fmt.Errorf("count records by product: %w", err)
	}
	for _, row := range byProduct {
		stats.RecordsByProduct[row.ExtendedProductID] = row.Count
	}

	if days < 1 {
		days = 30
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(days - 1))

	var dates []time.Time
	err = db.Model(&model.ActivationRecord{}).
		Where("license_acquisition_date >= ?", since).
		Pluck("license_acquisition_date", &dates).Error
	if err != nil {
		return nil, fmt.Errorf("load acquisition dates: %w", err)
	}

	counts := make(map[time.Time]int64, days)
	for _, d := range dates {
		counts[d.UTC().Truncate(24*time.Hour)]++
	}
	for day := since; !day.After(today); day = day.AddDate(0, 0, 1) {
		stats.DailyActivations = append(stats.DailyActivations, model.DailyActivations{Date: day, Count: counts[day]})
	}
	return stats, nil
}

// IsDuplicate reports whether err comes from a uniqueness violation.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}
