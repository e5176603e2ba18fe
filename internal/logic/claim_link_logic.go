package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/spl/internal/chain"
	"github.com/blues/spl/internal/escrow"
	"github.com/blues/spl/internal/logger"
	"github.com/blues/spl/internal/metrics"
	"github.com/blues/spl/internal/model"
	"github.com/blues/spl/internal/store"
	"github.com/ethereum/go-ethereum/core/types"
	"gorm.io/gorm"
)

// ClaimLinkLogic 领取链接业务逻辑
type ClaimLinkLogic struct {
	store       *store.Store
	chainClient *chain.Client   // 为nil时仅记账
	escrow      *escrow.Gateway // 未配置时走发送方授权模式
}

// NewClaimLinkLogic 创建领取链接业务逻辑
func NewClaimLinkLogic(st *store.Store, client *chain.Client, gw *escrow.Gateway) *ClaimLinkLogic {
	return &ClaimLinkLogic{store: st, chainClient: client, escrow: gw}
}

// PrepareClaimLink 校验链接数据并预生成id，返回需要客户端签名的托管交易组。
// 客户端签名后携带同一id调用 CreateClaimLink 提交。
// 托管未配置时返回空交易组，创建不需要签名。
func (c *ClaimLinkLogic) PrepareClaimLink(ctx context.Context, link *model.ClaimLinkModel) ([]*types.Transaction, error) {
	if err := c.validateLink(link); err != nil {
		return nil, err
	}

	link.Id = newRecordId()
	if !c.escrow.IsConfigured() {
		return nil, nil
	}

	txns, _, err := c.escrow.BuildCreate(ctx, escrow.CreateRequest{
		LinkId:        link.Id,
		SenderAddress: link.SenderAddress,
		Receiver:      link.ReceiverAddress,
		Amount:        link.Amount,
		Currency:      link.Currency,
		Expiry:        link.ExpiryDate,
	})
	return txns, err
}

// CreateClaimLink 创建领取链接。
// 托管合约已配置时把资金注入托管，注资失败则整个创建失败，
// 不会静默降级成无托管链接。
func (c *ClaimLinkLogic) CreateClaimLink(ctx context.Context, link *model.ClaimLinkModel, signer chain.Signer) error {
	if err := c.validateLink(link); err != nil {
		return err
	}

	// prepare 阶段可能已生成id（托管交易按它派生标识）
	if link.Id == "" {
		link.Id = newRecordId()
	}
	link.Status = model.ClaimLinkStatusActive
	link.Claimed = false
	link.Version = 0

	if c.escrow.IsConfigured() {
		result, err := c.escrow.CreateClaimLink(ctx, escrow.CreateRequest{
			LinkId:        link.Id,
			SenderAddress: link.SenderAddress,
			Receiver:      link.ReceiverAddress,
			Amount:        link.Amount,
			Currency:      link.Currency,
			Expiry:        link.ExpiryDate,
		}, signer)
		if err != nil {
			metrics.EscrowCallsTotal.WithLabelValues("create", "error").Inc()
			return fmt.Errorf("托管注资失败: %w", err)
		}
		metrics.EscrowCallsTotal.WithLabelValues("create", "ok").Inc()

		link.TxHash = result.TxHash
		link.EscrowId = result.EscrowId
		link.ContractAddress = c.escrow.Address().Hex()
	} else {
		// 无托管时资金留在发送方钱包，领取需要发送方授权签名
		logger.Warn("Escrow not configured, claim link %s will require sender approval", link.Id)
	}

	if err := c.store.DB().WithContext(ctx).Create(link).Error; err != nil {
		logger.Warn("Primary store failed creating claim link %s, buffering to fallback: %v", link.Id, err)
		if berr := c.store.BackupClaimLink(ctx, link); berr != nil {
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		metrics.FallbackWritesTotal.Inc()
	}

	logger.Info("Created claim link %s (amount: %d, escrowed: %v)", link.Id, link.Amount, link.IsEscrowed())
	return nil
}

// GetClaimLinks 获取领取链接列表
func (c *ClaimLinkLogic) GetClaimLinks(ctx context.Context) ([]model.ClaimLinkModel, error) {
	return c.store.ListClaimLinks(ctx)
}

// GetClaimLink 获取领取链接详情。
// 已过截止时间但仍标记active的链接按过期返回，状态修正留给巡检任务。
func (c *ClaimLinkLogic) GetClaimLink(ctx context.Context, id string) (*model.ClaimLinkModel, error) {
	link, err := c.store.GetClaimLink(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrClaimLinkNotFound
		}
		return nil, err
	}
	return link, nil
}

// PrepareClaim 校验并构造领取所需的未签名交易。
// 托管链接由领取人签名；授权模式下返回发送方需签名的直转交易。
func (c *ClaimLinkLogic) PrepareClaim(ctx context.Context, id string, claimerAddress string) (*types.Transaction, error) {
	link, err := c.checkClaim(ctx, id, claimerAddress)
	if err != nil {
		return nil, err
	}

	switch {
	case link.IsEscrowed():
		return c.escrow.BuildClaim(ctx, link.EscrowId, claimerAddress)
	case c.chainClient != nil:
		if link.Currency == model.CurrencyToken {
			return c.chainClient.BuildTokenTransfer(ctx, link.SenderAddress, claimerAddress, link.Amount)
		}
		return c.chainClient.BuildTransfer(ctx, link.SenderAddress, claimerAddress, link.Amount)
	default:
		return nil, nil
	}
}

// Claim 领取链接下的资金。
// 校验顺序：不存在 → 已领取 → 已过期 → 非活动状态 → 接收方不符 → 不能自领。
// 托管链接由领取人签名调用合约；无托管链接走发送方授权的直转。
func (c *ClaimLinkLogic) Claim(ctx context.Context, id string, claimerAddress string, signer chain.Signer) (*model.ClaimLinkModel, error) {
	link, err := c.checkClaim(ctx, id, claimerAddress)
	if err != nil {
		return nil, err
	}

	claimTxHash := ""
	switch {
	case link.IsEscrowed():
		hash, err := c.escrow.Claim(ctx, link.EscrowId, claimerAddress, signer)
		if err != nil {
			metrics.EscrowCallsTotal.WithLabelValues("claim", "error").Inc()
			metrics.ClaimsTotal.WithLabelValues("chain_failed").Inc()
			return nil, err
		}
		metrics.EscrowCallsTotal.WithLabelValues("claim", "ok").Inc()
		claimTxHash = hash
	case c.chainClient != nil:
		// 授权模式：资金仍在发送方钱包，签名器代表发送方的授权
		hash, err := c.submitApprovedTransfer(ctx, link, claimerAddress, signer)
		if err != nil {
			metrics.ClaimsTotal.WithLabelValues("chain_failed").Inc()
			return nil, err
		}
		claimTxHash = hash
	default:
		logger.Warn("Chain client not configured, recording claim %s/%s off-chain", id, claimerAddress)
	}

	now := time.Now()
	updated := *link
	updated.Claimed = true
	updated.ClaimedAt = &now
	updated.ClaimedBy = claimerAddress
	updated.ClaimTxHash = claimTxHash
	updated.Status = model.ClaimLinkStatusClaimed
	updated.Version = link.Version + 1

	// 乐观锁落账：同一链接的并发领取只有一个能成功
	res := c.store.DB().WithContext(ctx).Model(&model.ClaimLinkModel{}).
		Where("id = ? AND version = ? AND status = ?", link.Id, link.Version, model.ClaimLinkStatusActive).
		Updates(map[string]interface{}{
			"claimed":       true,
			"claimed_at":    now,
			"claimed_by":    claimerAddress,
			"claim_tx_hash": claimTxHash,
			"status":        model.ClaimLinkStatusClaimed,
			"version":       link.Version + 1,
		})
	if res.Error != nil || res.RowsAffected == 0 {
		if res.Error == nil {
			// 版本不符：另一次领取抢先落账
			if claimTxHash == "" {
				return nil, ErrAlreadyClaimed
			}
			return nil, ErrConcurrentUpdate
		}

		// 链上领取已确认但主存储落账失败：缓冲到降级存储
		if claimTxHash != "" {
			logger.Error("Claim %s confirmed on-chain but primary store failed, buffering: %v", claimTxHash, res.Error)
			if berr := c.store.BackupClaimLink(ctx, &updated); berr == nil {
				metrics.FallbackWritesTotal.Inc()
				metrics.ClaimsTotal.WithLabelValues("buffered").Inc()
				return &updated, nil
			}
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, res.Error)
		}
		return nil, res.Error
	}

	metrics.ClaimsTotal.WithLabelValues("ok").Inc()
	logger.Info("Claim link %s claimed by %s (tx: %s)", link.Id, claimerAddress, claimTxHash)
	return &updated, nil
}

// PrepareCancel 校验并构造取消所需的未签名交易。
// 仅托管链接需要发送方签名调用合约，其余情况返回空交易。
func (c *ClaimLinkLogic) PrepareCancel(ctx context.Context, id string, senderAddress string) (*types.Transaction, error) {
	link, err := c.checkCancel(ctx, id, senderAddress)
	if err != nil {
		return nil, err
	}
	if !link.IsEscrowed() {
		return nil, nil
	}
	return c.escrow.BuildCancel(ctx, link.EscrowId, senderAddress)
}

// Cancel 取消领取链接，托管中的资金退回发送方。
// 校验顺序：不存在 → 非发送方 → 已领取 → 非活动状态。
func (c *ClaimLinkLogic) Cancel(ctx context.Context, id string, senderAddress string, signer chain.Signer) (*model.ClaimLinkModel, error) {
	link, err := c.checkCancel(ctx, id, senderAddress)
	if err != nil {
		return nil, err
	}

	cancelTxHash := ""
	if link.IsEscrowed() {
		hash, err := c.escrow.Cancel(ctx, link.EscrowId, senderAddress, signer)
		if err != nil {
			metrics.EscrowCallsTotal.WithLabelValues("cancel", "error").Inc()
			return nil, err
		}
		metrics.EscrowCallsTotal.WithLabelValues("cancel", "ok").Inc()
		cancelTxHash = hash
	}

	res := c.store.DB().WithContext(ctx).Model(&model.ClaimLinkModel{}).
		Where("id = ? AND version = ? AND status IN ?", link.Id, link.Version,
			[]model.ClaimLinkStatus{model.ClaimLinkStatusActive, model.ClaimLinkStatusExpired}).
		Updates(map[string]interface{}{
			"status":        model.ClaimLinkStatusCancelled,
			"claim_tx_hash": cancelTxHash,
			"version":       link.Version + 1,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrConcurrentUpdate
	}

	updated := *link
	updated.Status = model.ClaimLinkStatusCancelled
	updated.ClaimTxHash = cancelTxHash
	updated.Version = link.Version + 1

	logger.Info("Claim link %s cancelled by sender (tx: %s)", link.Id, cancelTxHash)
	return &updated, nil
}

// MarkExpiredLinks 把已过截止时间的活动链接批量置为过期，返回修正条数。
// 由巡检任务周期调用。
func (c *ClaimLinkLogic) MarkExpiredLinks(ctx context.Context) (int64, error) {
	res := c.store.DB().WithContext(ctx).Model(&model.ClaimLinkModel{}).
		Where("status = ? AND expiry_date IS NOT NULL AND expiry_date < ?",
			model.ClaimLinkStatusActive, time.Now()).
		Updates(map[string]interface{}{
			"status":  model.ClaimLinkStatusExpired,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// GetClaimLinkStats 获取领取链接统计信息
func (c *ClaimLinkLogic) GetClaimLinkStats(ctx context.Context) (map[string]interface{}, error) {
	links, err := c.GetClaimLinks(ctx)
	if err != nil {
		return nil, err
	}

	counts := map[model.ClaimLinkStatus]int{}
	var totalAmount, claimedAmount int64
	for i := range links {
		counts[links[i].Status]++
		totalAmount += links[i].Amount
		if links[i].Claimed {
			claimedAmount += links[i].Amount
		}
	}

	return map[string]interface{}{
		"total_links":    len(links),
		"active_links":   counts[model.ClaimLinkStatusActive],
		"claimed_links":  counts[model.ClaimLinkStatusClaimed],
		"expired_links":  counts[model.ClaimLinkStatusExpired],
		"cancelled":      counts[model.ClaimLinkStatusCancelled],
		"total_amount":   totalAmount,
		"claimed_amount": claimedAmount,
	}, nil
}

// checkCancel 取消前的公共校验，按固定顺序返回第一个失败
func (c *ClaimLinkLogic) checkCancel(ctx context.Context, id string, senderAddress string) (*model.ClaimLinkModel, error) {
	link, err := c.GetClaimLink(ctx, id)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(link.SenderAddress, senderAddress) {
		return nil, ErrNotSender
	}
	if link.Claimed || link.Status == model.ClaimLinkStatusClaimed {
		return nil, ErrAlreadyClaimed
	}
	if link.Status != model.ClaimLinkStatusActive && link.Status != model.ClaimLinkStatusExpired {
		return nil, ErrLinkNotActive
	}
	return link, nil
}

// checkClaim 领取前的公共校验，按固定顺序返回第一个失败
func (c *ClaimLinkLogic) checkClaim(ctx context.Context, id string, claimerAddress string) (*model.ClaimLinkModel, error) {
	link, err := c.GetClaimLink(ctx, id)
	if err != nil {
		return nil, err
	}

	if link.Claimed || link.Status == model.ClaimLinkStatusClaimed {
		return nil, ErrAlreadyClaimed
	}
	// 巡检已置为expired的链接和刚过截止时间的链接按同一口径返回
	if link.Status == model.ClaimLinkStatusExpired || link.IsExpired(time.Now()) {
		return nil, ErrLinkExpired
	}
	if link.Status != model.ClaimLinkStatusActive {
		return nil, ErrLinkNotActive
	}
	if !chain.IsValidAddress(claimerAddress) {
		return nil, chain.ErrInvalidAddress
	}
	if link.ReceiverAddress != "" && !strings.EqualFold(link.ReceiverAddress, claimerAddress) {
		return nil, ErrReceiverMismatch
	}
	if strings.EqualFold(link.SenderAddress, claimerAddress) {
		return nil, ErrSelfClaimForbidden
	}
	return link, nil
}

// submitApprovedTransfer 无托管的授权模式：构造发送方到领取人的直转并提交
func (c *ClaimLinkLogic) submitApprovedTransfer(ctx context.Context, link *model.ClaimLinkModel, claimerAddress string, signer chain.Signer) (string, error) {
	if signer == nil {
		return "", chain.ErrSignerUnavailable
	}

	var (
		tx  *types.Transaction
		err error
	)
	if link.Currency == model.CurrencyToken {
		tx, err = c.chainClient.BuildTokenTransfer(ctx, link.SenderAddress, claimerAddress, link.Amount)
	} else {
		tx, err = c.chainClient.BuildTransfer(ctx, link.SenderAddress, claimerAddress, link.Amount)
	}
	if err != nil {
		return "", err
	}

	signed, err := signer.Sign(ctx, []*types.Transaction{tx}, []int{0})
	if err != nil {
		return "", err
	}
	if len(signed) != 1 {
		return "", chain.ErrTransactionNotSigned
	}

	hash, err := c.chainClient.VerifySigned(signed[0], link.SenderAddress, tx)
	if err != nil {
		return "", err
	}
	if _, err := c.chainClient.SubmitSigned(ctx, signed[0]); err != nil {
		return "", err
	}
	if err := c.chainClient.WaitForConfirmation(ctx, hash); err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

// validateLink 验证领取链接数据
func (c *ClaimLinkLogic) validateLink(link *model.ClaimLinkModel) error {
	if link.Amount <= 0 {
		return fmt.Errorf("%w: 金额必须大于0", ErrValidation)
	}
	if link.Currency != model.CurrencyNative && link.Currency != model.CurrencyToken {
		return fmt.Errorf("%w: 不支持的币种", ErrValidation)
	}
	if !chain.IsValidAddress(link.SenderAddress) {
		return fmt.Errorf("%w: 发送方地址格式不合法", ErrValidation)
	}
	if link.ReceiverAddress != "" {
		if !chain.IsValidAddress(link.ReceiverAddress) {
			return fmt.Errorf("%w: 接收方地址格式不合法", ErrValidation)
		}
		if strings.EqualFold(link.ReceiverAddress, link.SenderAddress) {
			return fmt.Errorf("%w: 接收方不能是发送方自己", ErrValidation)
		}
	}
	if link.ExpiryDate != nil && link.ExpiryDate.Before(time.Now()) {
		return fmt.Errorf("%w: 截止时间不能早于当前时间", ErrValidation)
	}
	return nil
}
