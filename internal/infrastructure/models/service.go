package models

import (
	"time"

	"gorm.io/gorm"
)

type Service struct {
	ID              string  `gorm:"type:varchar(255);primaryKey"`
	Name            string  `gorm:"type:varchar(255);not null"`
	Description     string  `gorm:"type:text"`
	PriceBaseUnits  string  `gorm:"type:varchar(100);not null"` // BigInt
	TokenAddress    string  `gorm:"type:varchar(66);not null"`
	Kind            string  `gorm:"type:varchar(20);not null;index"`
	Content         *string `gorm:"type:text"`
	EndpointURL     *string `gorm:"type:varchar(2048)"`
	ProviderAddress string  `gorm:"type:varchar(66);not null;index"`
	Tags            string  `gorm:"type:text"` // comma-delimited, ",a,b," form for LIKE lookups
	IsActive        bool    `gorm:"not null;default:true;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       gorm.DeletedAt `gorm:"index"`
}
