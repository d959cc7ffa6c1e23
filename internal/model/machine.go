package model

import "time"

// Machine is created lazily on the first successful activation for a hostname.
type Machine struct {
	ID                uint               `json:"id" gorm:"primaryKey"`
	Hostname          string             `json:"hostname" gorm:"size:255;uniqueIndex;not null"`
	CreatedAt         time.Time          `json:"created_at"`
	ActivationRecords []ActivationRecord `json:"activation_records" gorm:"constraint:OnDelete:CASCADE"`
}
