package gormstore

import "gorm.io/gorm"

// issuanceRow mirrors the SQLite issuance_records table. Times are unix
// milliseconds so ordering and staleness checks behave the same on every
// dialect.
type issuanceRow struct {
	WalletAddress string `gorm:"primaryKey;size:42"`
	EventID       string `gorm:"primaryKey;size:128"`
	Status        string `gorm:"size:16;not null;index:idx_issuance_status_updated,priority:1"`
	CredentialRef string `gorm:"size:256;not null;default:''"`
	AttemptID     string `gorm:"size:64;not null"`
	Attempts      int    `gorm:"not null;default:1"`
	LastError     string `gorm:"not null;default:''"`
	CreatedAtMs   int64  `gorm:"not null;index"`
	UpdatedAtMs   int64  `gorm:"not null;index:idx_issuance_status_updated,priority:2"`
}

func (issuanceRow) TableName() string { return "issuance_records" }

type decisionRow struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	WalletAddress string `gorm:"size:42;not null;index:idx_decision_key,priority:2"`
	EventID       string `gorm:"size:128;not null;index:idx_decision_key,priority:1"`
	State         string `gorm:"size:32;not null"`
	Reason        string `gorm:"size:32;not null"`
	TxHash        string `gorm:"size:80"`
	CredentialRef string `gorm:"size:256"`
	Detail        string
	DecidedAtMs   int64 `gorm:"not null"`
}

func (decisionRow) TableName() string { return "decision_log" }

// AutoMigrate creates or updates the tables used by Store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&issuanceRow{}, &decisionRow{})
}
