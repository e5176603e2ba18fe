package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/blues/spl/internal/config"
	"github.com/blues/spl/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrConfirmationTimeout 等待链上确认超时，交易可能仍在途
	ErrConfirmationTimeout = errors.New("等待链上确认超时")
	// ErrSubmissionFailed 交易提交失败
	ErrSubmissionFailed = errors.New("交易提交失败")
	// ErrInvalidAddress 地址格式不合法
	ErrInvalidAddress = errors.New("地址格式不合法")
	// ErrSignedTxMismatch 签名交易与预期不符
	ErrSignedTxMismatch = errors.New("签名交易与构造的交易不符")
)

// Backend 链节点能力的最小集合，*ethclient.Client 天然满足
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Client 链客户端封装
type Client struct {
	backend        Backend
	chainId        *big.Int
	confirmations  int64
	confirmTimeout time.Duration
	tokenAddress   string
}

// NewClient 连接链节点并测试连通性
func NewClient(cfg config.ChainConfig) (*Client, error) {
	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("no RPC URL configured")
	}

	logger.Info("Creating %s client connection (RPC: %s)", cfg.ChainType, cfg.RpcUrl)
	backend, err := ethclient.Dial(cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.ChainType, err)
	}

	// 测试连接
	if _, err := backend.BlockNumber(context.TODO()); err != nil {
		backend.Close()
		return nil, fmt.Errorf("client connection test failed (%s): %w", cfg.ChainType, err)
	}

	client, err := NewClientWithBackend(backend, cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}

	logger.Info("Successfully created %s client (chain id: %d)", cfg.ChainType, client.chainId)
	return client, nil
}

// NewClientWithBackend 用自定义后端创建客户端
func NewClientWithBackend(backend Backend, cfg config.ChainConfig) (*Client, error) {
	chainId := big.NewInt(cfg.ChainId)
	if cfg.ChainId == 0 {
		id, err := backend.ChainID(context.TODO())
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chain id: %w", err)
		}
		chainId = id
	}

	confirmations := cfg.Confirmations
	if confirmations <= 0 {
		confirmations = 4
	}
	timeout := time.Duration(cfg.ConfirmTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		backend:        backend,
		chainId:        chainId,
		confirmations:  confirmations,
		confirmTimeout: timeout,
		tokenAddress:   cfg.TokenAddress,
	}, nil
}

// Backend 获取底层后端
func (c *Client) Backend() Backend {
	return c.backend
}

// ChainId 获取链ID
func (c *Client) ChainId() *big.Int {
	return new(big.Int).Set(c.chainId)
}

// TokenAddress 获取稳定币合约地址
func (c *Client) TokenAddress() string {
	return c.tokenAddress
}

// IsValidAddress 校验地址格式
func IsValidAddress(addr string) bool {
	return common.IsHexAddress(addr)
}

// BuildTransfer 构造原生币直转交易（未签名）
func (c *Client) BuildTransfer(ctx context.Context, from, to string, amount int64) (*types.Transaction, error) {
	if !IsValidAddress(from) || !IsValidAddress(to) {
		return nil, ErrInvalidAddress
	}

	nonce, err := c.backend.PendingNonceAt(ctx, common.HexToAddress(from))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	toAddr := common.HexToAddress(to)
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &toAddr,
		Value:    big.NewInt(amount),
		Gas:      21000,
		GasPrice: gasPrice,
	}), nil
}

// BuildTokenTransfer 构造稳定币（ERC20）直转交易（未签名）
func (c *Client) BuildTokenTransfer(ctx context.Context, from, to string, amount int64) (*types.Transaction, error) {
	if !IsValidAddress(from) || !IsValidAddress(to) {
		return nil, ErrInvalidAddress
	}
	if !IsValidAddress(c.tokenAddress) {
		return nil, fmt.Errorf("token contract not configured: %w", ErrInvalidAddress)
	}

	calldata, err := erc20ABI.Pack("transfer", common.HexToAddress(to), big.NewInt(amount))
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer call: %w", err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, common.HexToAddress(from))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	tokenAddr := common.HexToAddress(c.tokenAddress)
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &tokenAddr,
		Gas:      65000,
		GasPrice: gasPrice,
		Data:     calldata,
	}), nil
}

// BuildTokenApprove 构造稳定币（ERC20）授权交易（未签名）
func (c *Client) BuildTokenApprove(ctx context.Context, from string, spender common.Address, amount int64) (*types.Transaction, error) {
	if !IsValidAddress(from) {
		return nil, ErrInvalidAddress
	}
	if !IsValidAddress(c.tokenAddress) {
		return nil, fmt.Errorf("token contract not configured: %w", ErrInvalidAddress)
	}

	calldata, err := erc20ABI.Pack("approve", spender, big.NewInt(amount))
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve call: %w", err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, common.HexToAddress(from))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	tokenAddr := common.HexToAddress(c.tokenAddress)
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &tokenAddr,
		Gas:      60000,
		GasPrice: gasPrice,
		Data:     calldata,
	}), nil
}

// VerifySigned 校验签名字节与构造的交易一致，并确认签名人是预期地址。
// 返回该签名交易的哈希。
func (c *Client) VerifySigned(raw []byte, from string, want *types.Transaction) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrSignedTxMismatch, err)
	}

	sender, err := types.Sender(types.LatestSignerForChainID(c.chainId), tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrTransactionNotSigned, err)
	}
	if sender != common.HexToAddress(from) {
		return common.Hash{}, fmt.Errorf("%w: 签名人 %s 与 %s 不符", ErrSignedTxMismatch, sender.Hex(), from)
	}

	if want != nil {
		if tx.To() == nil || want.To() == nil || *tx.To() != *want.To() {
			return common.Hash{}, fmt.Errorf("%w: 收款地址不一致", ErrSignedTxMismatch)
		}
		if tx.Value().Cmp(want.Value()) != 0 {
			return common.Hash{}, fmt.Errorf("%w: 金额不一致", ErrSignedTxMismatch)
		}
		if !bytes.Equal(tx.Data(), want.Data()) {
			return common.Hash{}, fmt.Errorf("%w: 调用数据不一致", ErrSignedTxMismatch)
		}
	}

	return tx.Hash(), nil
}

// SubmitSigned 提交已签名的原始交易字节
func (c *Client) SubmitSigned(ctx context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	logger.Info("Submitted transaction %s", tx.Hash().Hex())
	return tx.Hash(), nil
}

// WaitForConfirmation 轮询回执直到达到确认数。
// 超过配置的超时时间返回 ErrConfirmationTimeout，交易此时可能仍会落块。
func (c *Client) WaitForConfirmation(ctx context.Context, txHash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, txHash)
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			logger.Warn("Failed to fetch receipt for %s: %v", txHash.Hex(), err)
		}

		if receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: 交易 %s 执行失败", ErrSubmissionFailed, txHash.Hex())
			}
			latest, err := c.backend.BlockNumber(waitCtx)
			if err == nil && latest >= receipt.BlockNumber.Uint64()+uint64(c.confirmations) {
				return nil
			}
		}

		select {
		case <-waitCtx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmationTimeout, txHash.Hex())
		case <-ticker.C:
		}
	}
}
