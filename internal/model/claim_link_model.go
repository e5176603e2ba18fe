package model

import (
	"time"
)

// ClaimLinkModel 领取链接
type ClaimLinkModel struct {
	Id        string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 发送方与指定接收方（接收方为空表示任何人可领取）
	SenderAddress   string `json:"sender_address" gorm:"not null"`
	ReceiverAddress string `json:"receiver_address"`

	// 金额信息（最小单位整数）
	Amount   int64    `json:"amount" gorm:"not null" binding:"required,min=1"`
	Currency Currency `json:"currency" gorm:"not null;default:'native'"`

	// 时间信息
	ExpiryDate *time.Time `json:"expiry_date"`

	// 领取信息
	Claimed     bool       `json:"claimed" gorm:"default:false"`
	ClaimedAt   *time.Time `json:"claimed_at"`
	ClaimedBy   string     `json:"claimed_by"`
	ClaimTxHash string     `json:"claim_tx_hash"`

	// 状态
	Status ClaimLinkStatus `json:"status" gorm:"default:'active'"`

	// 区块链信息
	TxHash          string `json:"tx_hash"`
	EscrowId        string `json:"escrow_id"` // 托管合约内的 bytes32 标识
	ContractAddress string `json:"contract_address"`

	// 乐观锁版本号
	Version int64 `json:"version" gorm:"default:0"`
}

// ClaimLinkStatus 领取链接状态
type ClaimLinkStatus string

const (
	ClaimLinkStatusActive    ClaimLinkStatus = "active"    // 可领取
	ClaimLinkStatusClaimed   ClaimLinkStatus = "claimed"   // 已领取
	ClaimLinkStatusExpired   ClaimLinkStatus = "expired"   // 已过期
	ClaimLinkStatusCancelled ClaimLinkStatus = "cancelled" // 已取消
)

// TableName 自定义表名
func (ClaimLinkModel) TableName() string {
	return "claim_link"
}

// IsExpired 是否已过截止时间
func (c *ClaimLinkModel) IsExpired(now time.Time) bool {
	return c.ExpiryDate != nil && c.ExpiryDate.Before(now)
}

// IsEscrowed 是否有链上托管
func (c *ClaimLinkModel) IsEscrowed() bool {
	return c.EscrowId != ""
}
