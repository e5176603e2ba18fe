package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/blues/spl/internal/chain"
	"github.com/blues/spl/internal/config"
	"github.com/blues/spl/internal/logger"
	"github.com/blues/spl/internal/model"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrNotConfigured 托管合约未配置
	ErrNotConfigured = errors.New("托管合约未配置")
)

// 领取托管合约ABI。合约由外部脚本部署，这里只消费其接口。
const escrowABIJSON = `[
	{
		"inputs": [
			{"name": "linkId", "type": "bytes32"},
			{"name": "receiver", "type": "address"},
			{"name": "expiry", "type": "uint64"}
		],
		"name": "createClaimLink",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "linkId", "type": "bytes32"},
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "receiver", "type": "address"},
			{"name": "expiry", "type": "uint64"}
		],
		"name": "createTokenClaimLink",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "linkId", "type": "bytes32"}],
		"name": "claim",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "linkId", "type": "bytes32"}],
		"name": "cancel",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "linkId", "type": "bytes32"}],
		"name": "getClaimInfo",
		"outputs": [
			{"name": "sender", "type": "address"},
			{"name": "receiver", "type": "address"},
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "expiry", "type": "uint64"},
			{"name": "state", "type": "uint8"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "linkId", "type": "bytes32"},
			{"indexed": true, "name": "sender", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "ClaimLinkCreated",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "linkId", "type": "bytes32"},
			{"indexed": true, "name": "claimer", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "ClaimLinkClaimed",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "linkId", "type": "bytes32"},
			{"indexed": true, "name": "sender", "type": "address"}
		],
		"name": "ClaimLinkCancelled",
		"type": "event"
	}
]`

// ClaimState 合约内的领取状态
type ClaimState uint8

const (
	ClaimStateUnclaimed ClaimState = 0 // 未领取
	ClaimStateClaimed   ClaimState = 1 // 已领取
	ClaimStateCancelled ClaimState = 2 // 已取消
)

// ClaimInfo 合约内一条领取记录的状态
type ClaimInfo struct {
	Sender   string
	Receiver string
	Token    string
	Amount   int64
	Expiry   int64
	State    ClaimState
}

// CreateRequest 创建托管领取链接的参数
type CreateRequest struct {
	LinkId        string // 链下记录的id，派生出合约内的 bytes32 标识
	SenderAddress string
	Receiver      string // 为空表示任何人可领取
	Amount        int64
	Currency      model.Currency
	Expiry        *time.Time
}

// CreateResult 创建结果
type CreateResult struct {
	TxHash   string
	EscrowId string
}

// Gateway 领取托管合约网关。
// 把生命周期意图翻译成对已部署合约的调用，签名通过注入的 Signer 完成。
type Gateway struct {
	client  *chain.Client
	address common.Address
	abi     abi.ABI
}

// NewGateway 创建托管网关。合约地址未配置时返回未配置的网关。
func NewGateway(client *chain.Client, cfg config.ChainConfig) *Gateway {
	g := &Gateway{client: client}

	parsed, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		// ABI 是编译期常量，解析失败属于程序错误
		panic(fmt.Sprintf("failed to parse escrow ABI: %v", err))
	}
	g.abi = parsed

	if client != nil && chain.IsValidAddress(cfg.EscrowAddress) {
		g.address = common.HexToAddress(cfg.EscrowAddress)
		logger.Info("Escrow gateway configured (contract: %s)", g.address.Hex())
	} else {
		logger.Warn("Escrow contract not configured, claim links will require sender approval")
	}

	return g
}

// IsConfigured 合约地址与链客户端是否齐备
func (g *Gateway) IsConfigured() bool {
	return g != nil && g.client != nil && g.address != (common.Address{})
}

// Address 合约地址
func (g *Gateway) Address() common.Address {
	return g.address
}

// ABI 合约ABI
func (g *Gateway) ABI() abi.ABI {
	return g.abi
}

// DeriveEscrowId 由链下id派生合约内的 bytes32 标识
func DeriveEscrowId(linkId string) common.Hash {
	return crypto.Keccak256Hash([]byte(linkId))
}

// BuildCreate 构造创建托管链接所需的未签名交易组。
// 原生币走单笔 payable 调用；稳定币需要 approve + 创建两笔交易。
// prepare/submit 两步流程里 prepare 用它把交易组交给客户端签名。
func (g *Gateway) BuildCreate(ctx context.Context, req CreateRequest) ([]*types.Transaction, common.Hash, error) {
	if !g.IsConfigured() {
		return nil, common.Hash{}, ErrNotConfigured
	}

	escrowId := DeriveEscrowId(req.LinkId)
	receiver := common.Address{} // 零地址表示任何人可领取
	if req.Receiver != "" {
		if !chain.IsValidAddress(req.Receiver) {
			return nil, common.Hash{}, chain.ErrInvalidAddress
		}
		receiver = common.HexToAddress(req.Receiver)
	}

	var expiry uint64
	if req.Expiry != nil {
		expiry = uint64(req.Expiry.Unix())
	}

	var txns []*types.Transaction
	switch req.Currency {
	case model.CurrencyToken:
		approveTx, err := g.client.BuildTokenApprove(ctx, req.SenderAddress, g.address, req.Amount)
		if err != nil {
			return nil, common.Hash{}, err
		}
		createTx, err := g.buildCall(ctx, req.SenderAddress, g.address, nil, 220000,
			"createTokenClaimLink", escrowId, g.tokenAddress(), big.NewInt(req.Amount), receiver, expiry)
		if err != nil {
			return nil, common.Hash{}, err
		}
		// approve 与创建共用同一 nonce 起点，第二笔顺延
		createTx = bumpNonce(createTx, approveTx.Nonce()+1)
		txns = []*types.Transaction{approveTx, createTx}
	default:
		createTx, err := g.buildCall(ctx, req.SenderAddress, g.address, big.NewInt(req.Amount), 180000,
			"createClaimLink", escrowId, receiver, expiry)
		if err != nil {
			return nil, common.Hash{}, err
		}
		txns = []*types.Transaction{createTx}
	}

	return txns, escrowId, nil
}

// CreateClaimLink 创建领取链接并注入托管资金。
// 交易组一并交给签名器（indices 标出每笔都要签），逐笔校验提交，
// 等最后一笔确认后返回。
func (g *Gateway) CreateClaimLink(ctx context.Context, req CreateRequest, signer chain.Signer) (*CreateResult, error) {
	if signer == nil {
		return nil, chain.ErrSignerUnavailable
	}

	txns, escrowId, err := g.BuildCreate(ctx, req)
	if err != nil {
		return nil, err
	}

	indices := make([]int, len(txns))
	for i := range indices {
		indices[i] = i
	}

	signed, err := signer.Sign(ctx, txns, indices)
	if err != nil {
		return nil, err
	}
	if len(signed) != len(txns) {
		return nil, chain.ErrTransactionNotSigned
	}

	var lastHash common.Hash
	for i, raw := range signed {
		hash, err := g.client.VerifySigned(raw, req.SenderAddress, txns[i])
		if err != nil {
			return nil, err
		}
		if _, err := g.client.SubmitSigned(ctx, raw); err != nil {
			return nil, err
		}
		lastHash = hash
	}

	if err := g.client.WaitForConfirmation(ctx, lastHash); err != nil {
		return nil, err
	}

	return &CreateResult{
		TxHash:   lastHash.Hex(),
		EscrowId: escrowId.Hex(),
	}, nil
}

// BuildClaim 构造领取调用（未签名），供 prepare 阶段交给客户端签名
func (g *Gateway) BuildClaim(ctx context.Context, escrowId string, claimerAddress string) (*types.Transaction, error) {
	if !g.IsConfigured() {
		return nil, ErrNotConfigured
	}
	return g.buildCall(ctx, claimerAddress, g.address, nil, 150000, "claim", common.HexToHash(escrowId))
}

// BuildCancel 构造取消调用（未签名）
func (g *Gateway) BuildCancel(ctx context.Context, escrowId string, senderAddress string) (*types.Transaction, error) {
	if !g.IsConfigured() {
		return nil, ErrNotConfigured
	}
	return g.buildCall(ctx, senderAddress, g.address, nil, 150000, "cancel", common.HexToHash(escrowId))
}

// Claim 从托管领取资金。gas 上限覆盖合约内部转账。
func (g *Gateway) Claim(ctx context.Context, escrowId string, claimerAddress string, signer chain.Signer) (string, error) {
	return g.callAndConfirm(ctx, claimerAddress, signer, "claim", escrowId)
}

// Cancel 取消领取链接，资金退回发送方
func (g *Gateway) Cancel(ctx context.Context, escrowId string, senderAddress string, signer chain.Signer) (string, error) {
	return g.callAndConfirm(ctx, senderAddress, signer, "cancel", escrowId)
}

// callAndConfirm 构造单笔合约调用，签名、提交并等待确认
func (g *Gateway) callAndConfirm(ctx context.Context, from string, signer chain.Signer, method string, escrowId string) (string, error) {
	if !g.IsConfigured() {
		return "", ErrNotConfigured
	}
	if signer == nil {
		return "", chain.ErrSignerUnavailable
	}

	tx, err := g.buildCall(ctx, from, g.address, nil, 150000, method, common.HexToHash(escrowId))
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

	hash, err := g.client.VerifySigned(signed[0], from, tx)
	if err != nil {
		return "", err
	}
	if _, err := g.client.SubmitSigned(ctx, signed[0]); err != nil {
		return "", err
	}
	if err := g.client.WaitForConfirmation(ctx, hash); err != nil {
		return "", err
	}

	return hash.Hex(), nil
}

// GetClaimInfo 读取合约内一条领取记录的状态
func (g *Gateway) GetClaimInfo(ctx context.Context, escrowId string) (*ClaimInfo, error) {
	if !g.IsConfigured() {
		return nil, ErrNotConfigured
	}

	calldata, err := g.abi.Pack("getClaimInfo", common.HexToHash(escrowId))
	if err != nil {
		return nil, fmt.Errorf("failed to pack getClaimInfo: %w", err)
	}

	out, err := g.client.Backend().CallContract(ctx, ethereum.CallMsg{To: &g.address, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call getClaimInfo: %w", err)
	}

	values, err := g.abi.Unpack("getClaimInfo", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode getClaimInfo result: %w", err)
	}
	if len(values) != 6 {
		return nil, fmt.Errorf("unexpected getClaimInfo result arity: %d", len(values))
	}

	amount, _ := values[3].(*big.Int)
	expiry, _ := values[4].(uint64)
	state, _ := values[5].(uint8)

	info := &ClaimInfo{
		Sender:   values[0].(common.Address).Hex(),
		Receiver: values[1].(common.Address).Hex(),
		Token:    values[2].(common.Address).Hex(),
		Expiry:   int64(expiry),
		State:    ClaimState(state),
	}
	if amount != nil {
		info.Amount = amount.Int64()
	}
	return info, nil
}

// buildCall 构造一笔合约调用交易（未签名）
func (g *Gateway) buildCall(ctx context.Context, from string, to common.Address, value *big.Int, gas uint64, method string, args ...interface{}) (*types.Transaction, error) {
	if !chain.IsValidAddress(from) {
		return nil, chain.ErrInvalidAddress
	}

	calldata, err := g.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	backend := g.client.Backend()
	nonce, err := backend.PendingNonceAt(ctx, common.HexToAddress(from))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	if value == nil {
		value = big.NewInt(0)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     calldata,
	}), nil
}

func (g *Gateway) tokenAddress() common.Address {
	return common.HexToAddress(g.client.TokenAddress())
}

func bumpNonce(tx *types.Transaction, nonce uint64) *types.Transaction {
	to := tx.To()
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    tx.Value(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Data:     tx.Data(),
	})
}
