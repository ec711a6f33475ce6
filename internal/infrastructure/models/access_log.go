package models

import (
	"time"

	"github.com/google/uuid"
)

type AccessLog struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	ServiceID       string    `gorm:"type:varchar(255);not null;index"`
	CallerAddress   string    `gorm:"type:varchar(66);not null;index"`
	Amount          string    `gorm:"type:varchar(100);not null"`
	ProviderRevenue string    `gorm:"type:varchar(100);not null"`
	TxHash          string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	CreatedAt       time.Time
}

type Claim struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProviderAddress string    `gorm:"type:varchar(66);not null;index"`
	Amount          string    `gorm:"type:varchar(100);not null"`
	TxHash          string    `gorm:"type:varchar(255);not null"`
	CreatedAt       time.Time
}
