package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"activation-relay/internal/model"
)

// AuditLog records administrative operations and login attempts.
type AuditLog struct {
	db *gorm.DB
}

func NewAuditLog(db *gorm.DB) *AuditLog {
	return &AuditLog{db: db}
}

func (a *AuditLog) LogOperation(ctx context.Context, actor, action, target, targetID, ip string, details interface{}) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}

	entry := &model.OperationLog{
		Actor:     actor,
		Action:    action,
		Target:    target,
		TargetID:  targetID,
		Details:   string(detailsJSON),
		IP:        ip,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to write operation log: %w", err)
	}
	return nil
}

func (a *AuditLog) LogLogin(ctx context.Context, username, ip, userAgent string, success bool) error {
	status := "failed"
	if success {
		status = "success"
	}
	entry := &model.LoginLog{
		Username:  username,
		IP:        ip,
		UserAgent: userAgent,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to write login log: %w", err)
	}
	return nil
}

// GetOperationLogs returns one page of operation logs, newest first.
func (a *AuditLog) GetOperationLogs(ctx context.Context, page, pageSize int) ([]model.OperationLog, int64, error) {
	var logs []model.OperationLog
	var total int64

	db := a.db.WithContext(ctx)

	if err := db.Model(&model.OperationLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := db.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// GetLoginLogs returns one page of login attempts, newest first.
func (a *AuditLog) GetLoginLogs(ctx context.Context, page, pageSize int) ([]model.LoginLog, int64, error) {
	var logs []model.LoginLog
	var total int64

	db := a.db.WithContext(ctx)

	if err := db.Model(&model.LoginLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := db.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
