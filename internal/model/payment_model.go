package model

import (
	"time"
)

// PaymentModel 分摊支付请求
type PaymentModel struct {
	Id        string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息
	Title       string `json:"title" gorm:"not null" binding:"required"`
	Description string `json:"description" gorm:"type:text"`

	// 支付信息（金额一律为最小单位整数）
	TotalAmount  int64    `json:"total_amount" gorm:"not null" binding:"required,min=1"`
	Currency     Currency `json:"currency" gorm:"not null;default:'native'"`
	Participants int      `json:"participants" gorm:"not null" binding:"required,min=2"`
	Collected    int64    `json:"collected" gorm:"default:0"`

	// 收款人信息
	ReceiverAddress string `json:"receiver_address" gorm:"not null"`

	// 时间信息
	ExpiryDate *time.Time `json:"expiry_date"`

	// 状态
	Status PaymentStatus `json:"status" gorm:"default:'active'"`

	// 区块链信息
	TxHash          string `json:"tx_hash"`
	ContractAddress string `json:"contract_address"`

	// 乐观锁版本号
	Version int64 `json:"version" gorm:"default:0"`
}

// Currency 币种
type Currency string

const (
	CurrencyNative Currency = "native" // 原生币
	CurrencyToken  Currency = "token"  // 稳定币（ERC20）
)

// PaymentStatus 支付状态
type PaymentStatus string

const (
	PaymentStatusActive    PaymentStatus = "active"    // 收款中
	PaymentStatusCompleted PaymentStatus = "completed" // 已完成
)

// TableName 自定义表名
func (PaymentModel) TableName() string {
	return "payment"
}

// IsExpired 是否已过截止时间
func (p *PaymentModel) IsExpired(now time.Time) bool {
	return p.ExpiryDate != nil && p.ExpiryDate.Before(now)
}
