package handler

import (
	"fmt"
	"time"

	"github.com/blues/spl/internal/logic"
	"github.com/blues/spl/internal/model"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// 对外接口的金额一律是主单位十进制字符串（如 "12.5"），
// 内部换算成最小单位整数，换算不精确的请求直接拒绝。

// parseAmount 主单位字符串转最小单位整数
func parseAmount(s string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: 金额格式不合法", logic.ErrValidation)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: 金额精度超出最小单位", logic.ErrValidation)
	}
	if !scaled.IsPositive() {
		return 0, fmt.Errorf("%w: 金额必须大于0", logic.ErrValidation)
	}
	return scaled.IntPart(), nil
}

// formatAmount 最小单位整数转主单位字符串
func formatAmount(v int64, decimals int32) string {
	return decimal.NewFromInt(v).Shift(-decimals).String()
}

// encodeTxns 未签名交易编码成hex，交给客户端签名
func encodeTxns(txns []*types.Transaction) ([]string, error) {
	out := make([]string, 0, len(txns))
	for _, tx := range txns {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode transaction: %w", err)
		}
		out = append(out, hexutil.Encode(raw))
	}
	return out, nil
}

// decodeSignedTxns 客户端签好的hex交易字节
func decodeSignedTxns(encoded []string) ([][]byte, error) {
	out := make([][]byte, 0, len(encoded))
	for _, s := range encoded {
		raw, err := hexutil.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: 签名交易编码不合法", logic.ErrValidation)
		}
		out = append(out, raw)
	}
	return out, nil
}

// CreatePaymentRequest 创建支付请求
type CreatePaymentRequest struct {
	Title           string     `json:"title" binding:"required"`
	Description     string     `json:"description"`
	TotalAmount     string     `json:"total_amount" binding:"required"`
	Currency        string     `json:"currency"`
	Participants    int        `json:"participants" binding:"required"`
	ReceiverAddress string     `json:"receiver_address" binding:"required"`
	ExpiryDate      *time.Time `json:"expiry_date"`
}

// PrepareContributionRequest 贡献预处理请求
type PrepareContributionRequest struct {
	Address string `json:"address" binding:"required"`
}

// ContributeRequest 提交贡献请求
type ContributeRequest struct {
	Address    string   `json:"address" binding:"required"`
	Amount     string   `json:"amount" binding:"required"`
	SignedTxns []string `json:"signed_txns"`
}

// CreateClaimLinkRequest 创建领取链接请求
type CreateClaimLinkRequest struct {
	Id              string     `json:"id"` // prepare 返回的id，托管模式必填
	SenderAddress   string     `json:"sender_address" binding:"required"`
	ReceiverAddress string     `json:"receiver_address"`
	Amount          string     `json:"amount" binding:"required"`
	Currency        string     `json:"currency"`
	ExpiryDate      *time.Time `json:"expiry_date"`
	SignedTxns      []string   `json:"signed_txns"`
}

// ClaimRequest 领取请求
type ClaimRequest struct {
	Address    string   `json:"address" binding:"required"`
	SignedTxns []string `json:"signed_txns"`
}

// CancelClaimLinkRequest 取消领取链接请求
type CancelClaimLinkRequest struct {
	Address    string   `json:"address" binding:"required"`
	SignedTxns []string `json:"signed_txns"`
}

// PaymentResponse 支付请求响应
type PaymentResponse struct {
	Id              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	TotalAmount     string     `json:"total_amount"`
	Collected       string     `json:"collected"`
	Currency        string     `json:"currency"`
	Participants    int        `json:"participants"`
	ReceiverAddress string     `json:"receiver_address"`
	ExpiryDate      *time.Time `json:"expiry_date"`
	Status          string     `json:"status"`
	TxHash          string     `json:"tx_hash,omitempty"`
	ShareUrl        string     `json:"share_url,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ContributorResponse 贡献记录响应
type ContributorResponse struct {
	PaymentId string    `json:"payment_id"`
	Address   string    `json:"address"`
	Amount    string    `json:"amount"`
	TxHash    string    `json:"tx_hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ClaimLinkResponse 领取链接响应
type ClaimLinkResponse struct {
	Id              string     `json:"id"`
	SenderAddress   string     `json:"sender_address"`
	ReceiverAddress string     `json:"receiver_address,omitempty"`
	Amount          string     `json:"amount"`
	Currency        string     `json:"currency"`
	ExpiryDate      *time.Time `json:"expiry_date"`
	Claimed         bool       `json:"claimed"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	ClaimedBy       string     `json:"claimed_by,omitempty"`
	ClaimTxHash     string     `json:"claim_tx_hash,omitempty"`
	Status          string     `json:"status"`
	TxHash          string     `json:"tx_hash,omitempty"`
	EscrowId        string     `json:"escrow_id,omitempty"`
	ShareUrl        string     `json:"share_url,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PrepareResponse 预处理响应：待签名交易组与补充信息
type PrepareResponse struct {
	Id             string   `json:"id,omitempty"`
	ExpectedAmount string   `json:"expected_amount,omitempty"`
	UnsignedTxns   []string `json:"unsigned_txns"`
	SignIndices    []int    `json:"sign_indices"`
}

// toPaymentResponse 实体转响应模型
func toPaymentResponse(p *model.PaymentModel, decimals int32, shareUrl string) PaymentResponse {
	return PaymentResponse{
		Id:              p.Id,
		Title:           p.Title,
		Description:     p.Description,
		TotalAmount:     formatAmount(p.TotalAmount, decimals),
		Collected:       formatAmount(p.Collected, decimals),
		Currency:        string(p.Currency),
		Participants:    p.Participants,
		ReceiverAddress: p.ReceiverAddress,
		ExpiryDate:      p.ExpiryDate,
		Status:          string(p.Status),
		TxHash:          p.TxHash,
		ShareUrl:        shareUrl,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// toContributorResponse 实体转响应模型
func toContributorResponse(c *model.ContributorModel, decimals int32) ContributorResponse {
	return ContributorResponse{
		PaymentId: c.PaymentId,
		Address:   c.Address,
		Amount:    formatAmount(c.Amount, decimals),
		TxHash:    c.TxHash,
		CreatedAt: c.CreatedAt,
	}
}

// toClaimLinkResponse 实体转响应模型
func toClaimLinkResponse(l *model.ClaimLinkModel, decimals int32, shareUrl string) ClaimLinkResponse {
	return ClaimLinkResponse{
		Id:              l.Id,
		SenderAddress:   l.SenderAddress,
		ReceiverAddress: l.ReceiverAddress,
		Amount:          formatAmount(l.Amount, decimals),
		Currency:        string(l.Currency),
		ExpiryDate:      l.ExpiryDate,
		Claimed:         l.Claimed,
		ClaimedAt:       l.ClaimedAt,
		ClaimedBy:       l.ClaimedBy,
		ClaimTxHash:     l.ClaimTxHash,
		Status:          string(l.Status),
		TxHash:          l.TxHash,
		EscrowId:        l.EscrowId,
		ShareUrl:        shareUrl,
		CreatedAt:       l.CreatedAt,
	}
}
