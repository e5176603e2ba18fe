package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/blues/spl/internal/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// fakeBackend 内存链后端
type fakeBackend struct {
	mu       sync.Mutex
	chainId  *big.Int
	blockNum uint64
	nonce    uint64
	gasPrice *big.Int
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction
	sendErr  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainId:  big.NewInt(1337),
		blockNum: 100,
		gasPrice: big.NewInt(1_000_000_000),
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) { return f.chainId, nil }
func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockNum, nil
}
func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}
func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}
func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}
func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}
func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}
func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeBackend) confirm(txHash common.Hash, block uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: new(big.Int).SetUint64(block),
	}
}

func newTestClient(t *testing.T, backend Backend) *Client {
	t.Helper()
	client, err := NewClientWithBackend(backend, config.ChainConfig{
		ChainId:        1337,
		Confirmations:  2,
		ConfirmTimeout: 1,
		TokenAddress:   "0x00000000000000000000000000000000000000aa",
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestBuildTransfer(t *testing.T) {
	client := newTestClient(t, newFakeBackend())

	tx, err := client.BuildTransfer(context.Background(),
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222", 500)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if tx.Value().Int64() != 500 {
		t.Fatalf("expected value 500, got %s", tx.Value())
	}
	if tx.Gas() != 21000 {
		t.Fatalf("expected 21000 gas, got %d", tx.Gas())
	}
	if tx.To().Hex() != common.HexToAddress("0x2222222222222222222222222222222222222222").Hex() {
		t.Fatalf("unexpected recipient %s", tx.To().Hex())
	}

	if _, err := client.BuildTransfer(context.Background(), "bad", "worse", 1); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestBuildTokenTransfer(t *testing.T) {
	client := newTestClient(t, newFakeBackend())

	tx, err := client.BuildTokenTransfer(context.Background(),
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222", 500)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	// ERC20转账的目标是代币合约，金额走calldata
	if tx.To().Hex() != common.HexToAddress("0x00000000000000000000000000000000000000aa").Hex() {
		t.Fatalf("expected token contract recipient, got %s", tx.To().Hex())
	}
	if tx.Value().Sign() != 0 {
		t.Fatalf("token transfer should carry no native value")
	}
	if len(tx.Data()) != 4+32+32 {
		t.Fatalf("unexpected calldata length %d", len(tx.Data()))
	}
}

func TestVerifySigned(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	tx, err := client.BuildTransfer(ctx, from.Hex(),
		"0x2222222222222222222222222222222222222222", 500)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(1337)), key)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	hash, err := client.VerifySigned(raw, from.Hex(), tx)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if hash != signed.Hash() {
		t.Fatalf("unexpected hash %s", hash.Hex())
	}

	// 签名人不符
	if _, err := client.VerifySigned(raw, "0x3333333333333333333333333333333333333333", tx); !errors.Is(err, ErrSignedTxMismatch) {
		t.Fatalf("expected ErrSignedTxMismatch, got %v", err)
	}

	// 签名交易与构造的不符（金额被改）
	other, err := client.BuildTransfer(ctx, from.Hex(),
		"0x2222222222222222222222222222222222222222", 999)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, err := client.VerifySigned(raw, from.Hex(), other); !errors.Is(err, ErrSignedTxMismatch) {
		t.Fatalf("expected ErrSignedTxMismatch, got %v", err)
	}

	// 乱码
	if _, err := client.VerifySigned([]byte{0x01, 0x02}, from.Hex(), tx); !errors.Is(err, ErrSignedTxMismatch) {
		t.Fatalf("expected ErrSignedTxMismatch, got %v", err)
	}
}

func TestWaitForConfirmation(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)

	txHash := common.HexToHash("0xabc1")
	// 回执在区块90，当前100，确认数2，已经确认
	backend.confirm(txHash, 90)

	if err := client.WaitForConfirmation(context.Background(), txHash); err != nil {
		t.Fatalf("expected confirmation, got %v", err)
	}
}

func TestWaitForConfirmationTimeout(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)

	// 回执一直不出现，1秒超时
	err := client.WaitForConfirmation(context.Background(), common.HexToHash("0xdead"))
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("expected ErrConfirmationTimeout, got %v", err)
	}
}

func TestWaitForConfirmationFailedTx(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)

	txHash := common.HexToHash("0xbad1")
	backend.mu.Lock()
	backend.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusFailed,
		BlockNumber: big.NewInt(95),
	}
	backend.mu.Unlock()

	err := client.WaitForConfirmation(context.Background(), txHash)
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
}

func TestPresignedSigner(t *testing.T) {
	signer := NewPresignedSigner([][]byte{{0x01}})

	out, err := signer.Sign(context.Background(), nil, []int{0})
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 signed txn, got %d", len(out))
	}

	// 数量不符
	if _, err := signer.Sign(context.Background(), nil, []int{0, 1}); !errors.Is(err, ErrTransactionNotSigned) {
		t.Fatalf("expected ErrTransactionNotSigned, got %v", err)
	}

	// 空字节
	empty := NewPresignedSigner([][]byte{{}})
	if _, err := empty.Sign(context.Background(), nil, []int{0}); !errors.Is(err, ErrTransactionNotSigned) {
		t.Fatalf("expected ErrTransactionNotSigned, got %v", err)
	}
}
