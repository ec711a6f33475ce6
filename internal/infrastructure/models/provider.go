package models

import (
	"time"
)

type Provider struct {
	WalletAddress string `gorm:"type:varchar(66);primaryKey"`
	Name          string `gorm:"type:varchar(255)"`
	TotalEarned   string `gorm:"type:varchar(100);not null;default:'0'"`  // BigInt
	TotalClaimed  string `gorm:"type:varchar(100);not null;default:'0'"` // BigInt
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
