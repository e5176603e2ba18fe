package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/spl/internal/chain"
	"github.com/blues/spl/internal/logger"
	"github.com/blues/spl/internal/metrics"
	"github.com/blues/spl/internal/model"
	"github.com/blues/spl/internal/store"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentLogic 分摊支付业务逻辑
type PaymentLogic struct {
	store       *store.Store
	chainClient *chain.Client // 为nil时仅记账，不做链上转账
}

// NewPaymentLogic 创建分摊支付业务逻辑
func NewPaymentLogic(st *store.Store, client *chain.Client) *PaymentLogic {
	return &PaymentLogic{store: st, chainClient: client}
}

// newRecordId 生成不透明的记录id
func newRecordId() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreatePayment 创建支付请求
func (p *PaymentLogic) CreatePayment(ctx context.Context, payment *model.PaymentModel) error {
	// 验证支付数据
	if err := p.validatePayment(payment); err != nil {
		return err
	}

	// 设置默认值
	payment.Id = newRecordId()
	payment.Status = model.PaymentStatusActive
	payment.Collected = 0
	payment.Version = 0

	// 写入主存储，失败时缓冲到降级存储
	if err := p.store.DB().WithContext(ctx).Create(payment).Error; err != nil {
		logger.Warn("Primary store failed creating payment %s, buffering to fallback: %v", payment.Id, err)
		if berr := p.store.BackupPayment(ctx, payment, nil); berr != nil {
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		metrics.FallbackWritesTotal.Inc()
	}

	logger.Info("Created payment %s (total: %d, participants: %d)",
		payment.Id, payment.TotalAmount, payment.Participants)
	return nil
}

// GetPayments 获取支付请求列表
func (p *PaymentLogic) GetPayments(ctx context.Context) ([]model.PaymentModel, error) {
	return p.store.ListPayments(ctx)
}

// GetPayment 获取支付请求详情及贡献记录
func (p *PaymentLogic) GetPayment(ctx context.Context, id string) (*model.PaymentModel, []model.ContributorModel, error) {
	payment, contributors, err := p.store.GetPayment(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrPaymentNotFound
		}
		return nil, nil, err
	}
	return payment, contributors, nil
}

// ExpectedShare 计算下一位贡献者的应付份额。
// 金额为最小单位整数，均分的余数由最后一位贡献者补齐，
// 保证完成时 collected 精确等于 total。
func (p *PaymentLogic) ExpectedShare(payment *model.PaymentModel, contributorCount int) int64 {
	remaining := payment.Participants - contributorCount
	if remaining <= 1 {
		return payment.TotalAmount - payment.Collected
	}
	return payment.TotalAmount / int64(payment.Participants)
}

// PrepareContribution 校验并构造未签名的转账交易，返回交易与应付份额。
// 客户端签名后通过 Contribute 提交。
func (p *PaymentLogic) PrepareContribution(ctx context.Context, id string, address string) (*types.Transaction, int64, error) {
	payment, contributors, err := p.checkContribution(ctx, id, address)
	if err != nil {
		return nil, 0, err
	}

	share := p.ExpectedShare(payment, len(contributors))
	if p.chainClient == nil {
		return nil, share, nil
	}

	tx, err := p.buildTransfer(ctx, payment, address, share)
	if err != nil {
		return nil, 0, err
	}
	return tx, share, nil
}

// Contribute 向支付请求贡献自己的份额。
// 校验顺序：不存在 → 已完成 → 已过期 → 重复贡献 → 金额不符；
// 全部通过后构造直转交易、委托签名、提交并等待确认，最后落账。
func (p *PaymentLogic) Contribute(ctx context.Context, id string, amount int64, address string, signer chain.Signer) (*model.ContributorModel, error) {
	payment, contributors, err := p.checkContribution(ctx, id, address)
	if err != nil {
		return nil, err
	}

	share := p.ExpectedShare(payment, len(contributors))
	if amount != share {
		return nil, fmt.Errorf("%w: 应付 %d，实付 %d", ErrAmountMismatch, share, amount)
	}

	// 链上直转：贡献者 → 收款地址
	txHash := ""
	if p.chainClient != nil {
		hash, err := p.submitTransfer(ctx, payment, address, amount, signer)
		if err != nil {
			metrics.ContributionsTotal.WithLabelValues("chain_failed").Inc()
			return nil, err
		}
		txHash = hash
	} else {
		logger.Warn("Chain client not configured, recording contribution %s/%s off-chain", id, address)
	}

	contributor := &model.ContributorModel{
		PaymentId: payment.Id,
		Address:   address,
		Amount:    amount,
		TxHash:    txHash,
	}

	err = p.appendContribution(ctx, payment, contributor)

	// 版本不符但链上转账已确认：资金已经转走，重读最新状态补记，
	// 直转没有合约事件，监控对不回来
	if txHash != "" && errors.Is(err, ErrConcurrentUpdate) {
		for attempt := 0; attempt < 3 && errors.Is(err, ErrConcurrentUpdate); attempt++ {
			fresh, _, gerr := p.GetPayment(ctx, id)
			if gerr != nil {
				break
			}
			payment = fresh
			err = p.appendContribution(ctx, payment, contributor)
		}
	}

	if err != nil {
		if errors.Is(err, ErrConcurrentUpdate) && txHash == "" {
			return nil, ErrConcurrentUpdate
		}
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateContribution
		}

		// 链上转账已确认但主存储落账失败：缓冲到降级存储，由回放任务补回
		if txHash != "" {
			logger.Error("Chain transfer %s confirmed but primary store failed, buffering: %v", txHash, err)
			payment.Collected += amount
			if payment.Collected >= payment.TotalAmount {
				payment.Status = model.PaymentStatusCompleted
			}
			payment.Version++
			backup := append(append([]model.ContributorModel{}, contributors...), *contributor)
			if berr := p.store.BackupPayment(ctx, payment, backup); berr == nil {
				metrics.FallbackWritesTotal.Inc()
				metrics.ContributionsTotal.WithLabelValues("buffered").Inc()
				return contributor, nil
			}
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return nil, err
	}

	metrics.ContributionsTotal.WithLabelValues("ok").Inc()
	logger.Info("Contribution recorded: payment %s, address %s, amount %d (collected %d/%d)",
		payment.Id, address, amount, payment.Collected, payment.TotalAmount)
	return contributor, nil
}

// appendContribution 乐观锁落账：版本不符说明有并发贡献。
// 成功时把支付请求推进到新状态和版本。
func (p *PaymentLogic) appendContribution(ctx context.Context, payment *model.PaymentModel, contributor *model.ContributorModel) error {
	newCollected := payment.Collected + contributor.Amount
	newStatus := model.PaymentStatusActive
	if newCollected >= payment.TotalAmount {
		newStatus = model.PaymentStatusCompleted
	}

	err := p.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.PaymentModel{}).
			Where("id = ? AND version = ? AND status = ?", payment.Id, payment.Version, model.PaymentStatusActive).
			Updates(map[string]interface{}{
				"collected": newCollected,
				"status":    newStatus,
				"version":   payment.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentUpdate
		}
		return tx.Create(contributor).Error
	})
	if err != nil {
		return err
	}

	payment.Collected = newCollected
	payment.Status = newStatus
	payment.Version++
	return nil
}

// GetPaymentStats 获取支付请求统计信息
func (p *PaymentLogic) GetPaymentStats(ctx context.Context, id string) (map[string]interface{}, error) {
	payment, contributors, err := p.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	completionPercentage := float64(0)
	if payment.TotalAmount > 0 {
		completionPercentage = float64(payment.Collected) / float64(payment.TotalAmount) * 100
	}

	return map[string]interface{}{
		"payment_id":            payment.Id,
		"collected":             payment.Collected,
		"total_amount":          payment.TotalAmount,
		"completion_percentage": completionPercentage,
		"contributor_count":     len(contributors),
		"participants":          payment.Participants,
		"status":                payment.Status,
	}, nil
}

// checkContribution 贡献前的公共校验，按固定顺序返回第一个失败
func (p *PaymentLogic) checkContribution(ctx context.Context, id string, address string) (*model.PaymentModel, []model.ContributorModel, error) {
	payment, contributors, err := p.GetPayment(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if payment.Status == model.PaymentStatusCompleted {
		return nil, nil, ErrAlreadyCompleted
	}
	if payment.IsExpired(time.Now()) {
		return nil, nil, ErrPaymentExpired
	}
	if !chain.IsValidAddress(address) {
		return nil, nil, chain.ErrInvalidAddress
	}
	for _, c := range contributors {
		if strings.EqualFold(c.Address, address) {
			return nil, nil, ErrDuplicateContribution
		}
	}

	return payment, contributors, nil
}

// buildTransfer 按币种构造直转交易
func (p *PaymentLogic) buildTransfer(ctx context.Context, payment *model.PaymentModel, from string, amount int64) (*types.Transaction, error) {
	if payment.Currency == model.CurrencyToken {
		return p.chainClient.BuildTokenTransfer(ctx, from, payment.ReceiverAddress, amount)
	}
	return p.chainClient.BuildTransfer(ctx, from, payment.ReceiverAddress, amount)
}

// submitTransfer 构造、签名、提交直转交易并等待确认
func (p *PaymentLogic) submitTransfer(ctx context.Context, payment *model.PaymentModel, from string, amount int64, signer chain.Signer) (string, error) {
	if signer == nil {
		return "", chain.ErrSignerUnavailable
	}

	tx, err := p.buildTransfer(ctx, payment, from, amount)
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

	hash, err := p.chainClient.VerifySigned(signed[0], from, tx)
	if err != nil {
		return "", err
	}
	if _, err := p.chainClient.SubmitSigned(ctx, signed[0]); err != nil {
		return "", err
	}

	start := time.Now()
	if err := p.chainClient.WaitForConfirmation(ctx, hash); err != nil {
		return "", err
	}
	metrics.ConfirmationWaitSeconds.Observe(time.Since(start).Seconds())

	return hash.Hex(), nil
}

// validatePayment 验证支付数据
func (p *PaymentLogic) validatePayment(payment *model.PaymentModel) error {
	if payment.Title == "" {
		return fmt.Errorf("%w: 标题不能为空", ErrValidation)
	}
	if payment.TotalAmount <= 0 {
		return fmt.Errorf("%w: 目标金额必须大于0", ErrValidation)
	}
	if payment.Participants < 2 {
		return fmt.Errorf("%w: 参与人数至少为2", ErrValidation)
	}
	if payment.Currency != model.CurrencyNative && payment.Currency != model.CurrencyToken {
		return fmt.Errorf("%w: 不支持的币种", ErrValidation)
	}
	if !chain.IsValidAddress(payment.ReceiverAddress) {
		return fmt.Errorf("%w: 收款地址格式不合法", ErrValidation)
	}
	if payment.ExpiryDate != nil && payment.ExpiryDate.Before(time.Now()) {
		return fmt.Errorf("%w: 截止时间不能早于当前时间", ErrValidation)
	}
	return nil
}

// isDuplicateKeyError 识别唯一索引冲突
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}
