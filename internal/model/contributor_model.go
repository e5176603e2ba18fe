package model

import (
	"time"
)

// ContributorModel 贡献记录，只追加不修改
type ContributorModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	PaymentId string `json:"payment_id" gorm:"not null;size:36;uniqueIndex:idx_payment_address"`
	Address   string `json:"address" gorm:"not null;uniqueIndex:idx_payment_address"`
	Amount    int64  `json:"amount" gorm:"not null"`
	TxHash    string `json:"tx_hash"`
}

// TableName 自定义表名
func (ContributorModel) TableName() string {
	return "contributor"
}
