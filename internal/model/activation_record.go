package model

import "time"

// ActivationRecord is immutable once stored. A machine holds at most one
// record per installation/product pair.
type ActivationRecord struct {
	ID                     uint      `json:"id" gorm:"primaryKey"`
	MachineID              uint      `json:"machine_id" gorm:"not null;uniqueIndex:idx_activation_record_unique,priority:1"`
	InstallationID         string    `json:"installation_id" gorm:"size:100;not null;uniqueIndex:idx_activation_record_unique,priority:2"`
	ExtendedProductID      string    `json:"extended_product_id" gorm:"size:100;not null;uniqueIndex:idx_activation_record_unique,priority:3"`
	ConfirmationID         string    `json:"confirmation_id" gorm:"size:100;not null"`
	LicenseAcquisitionDate time.Time `json:"license_acquisition_date" gorm:"not null;index"`
}
