package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/blues/spl/internal/chain"
	"github.com/blues/spl/internal/config"
	"github.com/blues/spl/internal/escrow"
	"github.com/blues/spl/internal/logger"
	"github.com/blues/spl/internal/model"
	"github.com/blues/spl/internal/store"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/panjf2000/ants/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventMonitor 托管合约事件监控器。
// 轮询托管合约的日志，把领取、取消事件对账回本地记录，
// 兜住确认等待超时后链上实际落块的情况。
type EventMonitor struct {
	client        *chain.Client
	gateway       *escrow.Gateway
	store         *store.Store
	config        config.MonitorConfig
	startBlockNum int64
	ctx           context.Context
	cancel        context.CancelFunc
	retryCount    int
	mu            sync.RWMutex // 保护 startBlockNum 与 retryCount 的并发访问
}

// NewEventMonitor 创建事件监控器
func NewEventMonitor(client *chain.Client, gw *escrow.Gateway, st *store.Store, cfg config.MonitorConfig) *EventMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventMonitor{
		client:  client,
		gateway: gw,
		store:   st,
		config:  cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start 启动监控
func (m *EventMonitor) Start() error {
	if !m.gateway.IsConfigured() {
		logger.Warn("Escrow not configured, event monitor disabled")
		return nil
	}

	currentBlock, err := m.client.Backend().BlockNumber(m.ctx)
	if err != nil {
		return err
	}
	logger.Info("Connected to blockchain, current block: %d", currentBlock)

	m.mu.Lock()
	m.startBlockNum = m.resolveStartBlock(int64(currentBlock))
	m.mu.Unlock()

	logger.Info("Starting escrow event monitor from block %d", m.startBlockNum)
	go m.loop()
	return nil
}

// Stop 停止监控
func (m *EventMonitor) Stop() {
	logger.Info("Stopping escrow event monitor")
	m.cancel()
}

// resolveStartBlock 起始区块：取配置值与已处理最大区块号的较大者，
// 都没有时从当前区块开始
func (m *EventMonitor) resolveStartBlock(currentBlock int64) int64 {
	start := m.config.StartBlock

	var maxProcessed int64
	err := m.store.DB().Model(&model.ChainEventModel{}).
		Select("COALESCE(MAX(block_num), 0)").
		Scan(&maxProcessed).Error
	if err != nil {
		logger.Error("Failed to get max processed block number: %v", err)
	}
	if maxProcessed >= start {
		start = maxProcessed + 1
	}
	if start == 0 {
		start = currentBlock
	}
	return start
}

// loop 监控循环
func (m *EventMonitor) loop() {
	interval := time.Duration(m.config.Interval) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			logger.Info("Event monitor stopped")
			return
		case <-ticker.C:
			currentBlock, err := m.client.Backend().BlockNumber(m.ctx)
			if err != nil {
				m.handleError(err)
				continue
			}

			m.mu.RLock()
			from := m.startBlockNum
			m.mu.RUnlock()

			if from > int64(currentBlock) {
				continue
			}
			if err := m.processBlocksInBatches(from, int64(currentBlock)); err != nil {
				m.handleError(err)
			} else {
				m.mu.Lock()
				m.retryCount = 0
				m.mu.Unlock()
			}
		}
	}
}

// processBlocksInBatches 分批拉取并处理日志
func (m *EventMonitor) processBlocksInBatches(fromBlock, toBlock int64) error {
	batchSize := m.config.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	for currentFrom := fromBlock; currentFrom <= toBlock; currentFrom += batchSize {
		currentTo := currentFrom + batchSize - 1
		if currentTo > toBlock {
			currentTo = toBlock
		}

		logs, err := m.client.Backend().FilterLogs(m.ctx, ethereum.FilterQuery{
			FromBlock: big.NewInt(currentFrom),
			ToBlock:   big.NewInt(currentTo),
			Addresses: []common.Address{m.gateway.Address()},
		})
		if err != nil {
			if m.isRateLimitError(err) {
				return err
			}
			logger.Error("Error fetching logs for blocks %d-%d: %v", currentFrom, currentTo, err)
			continue
		}

		if len(logs) > 0 {
			m.processLogs(logs)
		}

		m.mu.Lock()
		m.startBlockNum = currentTo + 1
		m.mu.Unlock()
	}

	return nil
}

// processLogs 按交易分组，临时协程池并发处理
func (m *EventMonitor) processLogs(logs []types.Log) {
	byTx := make(map[common.Hash][]types.Log)
	for _, l := range logs {
		byTx[l.TxHash] = append(byTx[l.TxHash], l)
	}

	pool, err := ants.NewPool(len(byTx))
	if err != nil {
		logger.Error("Failed to create worker pool: %v", err)
		for _, group := range byTx {
			m.processTxLogs(group)
		}
		return
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, group := range byTx {
		group := group
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			m.processTxLogs(group)
		}); err != nil {
			wg.Done()
			logger.Error("Failed to submit log group: %v", err)
		}
	}
	wg.Wait()
}

// processTxLogs 处理一笔交易内的全部日志
func (m *EventMonitor) processTxLogs(logs []types.Log) {
	for _, l := range logs {
		if err := m.processLog(l); err != nil {
			logger.Error("Error processing log %s/%d: %v", l.TxHash.Hex(), l.Index, err)
		}
	}
}

// processLog 解码单条日志并对账。
// 事件表的 (tx_hash, log_index) 唯一索引保证重复拉取幂等。
func (m *EventMonitor) processLog(l types.Log) error {
	if len(l.Topics) == 0 {
		return nil
	}

	contractABI := m.gateway.ABI()
	ev, err := contractABI.EventByID(l.Topics[0])
	if err != nil {
		// 非本合约接口内的事件，跳过
		return nil
	}

	data := map[string]interface{}{"eventName": ev.Name}
	switch ev.Name {
	case "ClaimLinkCreated", "ClaimLinkClaimed":
		if len(l.Topics) < 3 {
			return nil
		}
		data["linkId"] = l.Topics[1].Hex()
		data["address"] = common.BytesToAddress(l.Topics[2].Bytes()).Hex()
		if vals, err := m.gateway.ABI().Unpack(ev.Name, l.Data); err == nil && len(vals) == 1 {
			if amount, ok := vals[0].(*big.Int); ok {
				data["amount"] = amount.String()
			}
		}
	case "ClaimLinkCancelled":
		if len(l.Topics) < 3 {
			return nil
		}
		data["linkId"] = l.Topics[1].Hex()
		data["address"] = common.BytesToAddress(l.Topics[2].Bytes()).Hex()
	default:
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	event := &model.ChainEventModel{
		ContractAddress: l.Address.Hex(),
		EventName:       ev.Name,
		TxHash:          l.TxHash.Hex(),
		BlockNum:        int64(l.BlockNumber),
		LogIndex:        int64(l.Index),
		Data:            string(raw),
	}
	res := m.store.DB().Clauses(clause.OnConflict{DoNothing: true}).Create(event)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 已处理过
		return nil
	}

	if err := m.reconcile(ev.Name, data); err != nil {
		return err
	}

	return m.store.DB().Model(&model.ChainEventModel{}).
		Where("tx_hash = ? AND log_index = ?", event.TxHash, event.LogIndex).
		Update("processed", true).Error
}

// reconcile 把链上事实对账回领取链接记录。
// 本地已领先（接口路径落账过）时这里不会命中任何行。
func (m *EventMonitor) reconcile(eventName string, data map[string]interface{}) error {
	escrowId, _ := data["linkId"].(string)
	if escrowId == "" {
		return nil
	}

	var link model.ClaimLinkModel
	err := m.store.DB().First(&link, "escrow_id = ?", escrowId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("Event for unknown escrow id %s", escrowId)
			return nil
		}
		return err
	}

	switch eventName {
	case "ClaimLinkClaimed":
		if link.Status == model.ClaimLinkStatusClaimed {
			return nil
		}
		claimer, _ := data["address"].(string)
		now := time.Now()
		logger.Info("Reconciling claim link %s as claimed from chain event", link.Id)
		return m.store.DB().Model(&model.ClaimLinkModel{}).
			Where("id = ? AND status <> ?", link.Id, model.ClaimLinkStatusClaimed).
			Updates(map[string]interface{}{
				"claimed":    true,
				"claimed_at": now,
				"claimed_by": claimer,
				"status":     model.ClaimLinkStatusClaimed,
				"version":    gorm.Expr("version + 1"),
			}).Error
	case "ClaimLinkCancelled":
		if link.Status == model.ClaimLinkStatusCancelled {
			return nil
		}
		logger.Info("Reconciling claim link %s as cancelled from chain event", link.Id)
		return m.store.DB().Model(&model.ClaimLinkModel{}).
			Where("id = ? AND status IN ?", link.Id,
				[]model.ClaimLinkStatus{model.ClaimLinkStatusActive, model.ClaimLinkStatusExpired}).
			Updates(map[string]interface{}{
				"status":  model.ClaimLinkStatusCancelled,
				"version": gorm.Expr("version + 1"),
			}).Error
	}
	return nil
}

// handleError 记录错误并计数，间隔由ticker控制
func (m *EventMonitor) handleError(err error) {
	m.mu.Lock()
	m.retryCount++
	count := m.retryCount
	m.mu.Unlock()
	logger.Error("Event monitor error (retry %d): %v", count, err)
}

// isRateLimitError 检查是否为API限流错误
func (m *EventMonitor) isRateLimitError(err error) bool {
	return strings.Contains(err.Error(), "Too Many Requests")
}

// GetStatus 获取监控状态
func (m *EventMonitor) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"start_block": m.startBlockNum,
		"configured":  m.gateway.IsConfigured(),
		"retry_count": m.retryCount,
	}
}
