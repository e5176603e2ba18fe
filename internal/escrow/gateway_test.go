package escrow

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/blues/spl/internal/chain"
	"github.com/blues/spl/internal/config"
	"github.com/blues/spl/internal/model"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	escrowAddr = "0x00000000000000000000000000000000000000ee"
	tokenAddr  = "0x00000000000000000000000000000000000000aa"
	senderAddr = "0x1111111111111111111111111111111111111111"
)

// fakeBackend 内存链后端
type fakeBackend struct {
	nonce uint64
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error)   { return big.NewInt(1337), nil }
func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }
func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}
func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}
func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}
func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := config.ChainConfig{
		ChainId:        1337,
		Confirmations:  2,
		ConfirmTimeout: 1,
		EscrowAddress:  escrowAddr,
		TokenAddress:   tokenAddr,
	}
	client, err := chain.NewClientWithBackend(&fakeBackend{nonce: 7}, cfg)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return NewGateway(client, cfg)
}

func TestGatewayNotConfigured(t *testing.T) {
	cfg := config.ChainConfig{ChainId: 1337}
	client, err := chain.NewClientWithBackend(&fakeBackend{}, cfg)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	g := NewGateway(client, cfg)

	if g.IsConfigured() {
		t.Fatalf("gateway without contract address should not be configured")
	}
	if _, _, err := g.BuildCreate(context.Background(), CreateRequest{}); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := g.GetClaimInfo(context.Background(), "0xabc"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestABIHasConcreteSelectors(t *testing.T) {
	g := newTestGateway(t)

	methods := []string{"createClaimLink", "createTokenClaimLink", "claim", "cancel", "getClaimInfo"}
	seen := map[string]string{}
	for _, name := range methods {
		m, ok := g.ABI().Methods[name]
		if !ok {
			t.Fatalf("missing method %s", name)
		}
		if len(m.ID) != 4 {
			t.Fatalf("method %s has no selector", name)
		}
		sel := common.Bytes2Hex(m.ID)
		if prev, dup := seen[sel]; dup {
			t.Fatalf("selector collision between %s and %s", prev, name)
		}
		seen[sel] = name
	}

	for _, name := range []string{"ClaimLinkCreated", "ClaimLinkClaimed", "ClaimLinkCancelled"} {
		if _, ok := g.ABI().Events[name]; !ok {
			t.Fatalf("missing event %s", name)
		}
	}
}

func TestDeriveEscrowId(t *testing.T) {
	id := DeriveEscrowId("abc123")
	want := crypto.Keccak256Hash([]byte("abc123"))
	if id != want {
		t.Fatalf("expected keccak256 derivation, got %s", id.Hex())
	}
	if DeriveEscrowId("abc123") != id {
		t.Fatalf("derivation must be deterministic")
	}
	if DeriveEscrowId("abc124") == id {
		t.Fatalf("different link ids must derive different escrow ids")
	}
}

func TestBuildCreateNative(t *testing.T) {
	g := newTestGateway(t)

	expiry := time.Now().Add(24 * time.Hour)
	txns, escrowId, err := g.BuildCreate(context.Background(), CreateRequest{
		LinkId:        "link-1",
		SenderAddress: senderAddr,
		Amount:        5000,
		Currency:      model.CurrencyNative,
		Expiry:        &expiry,
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("native create should be a single transaction, got %d", len(txns))
	}

	tx := txns[0]
	if tx.To().Hex() != common.HexToAddress(escrowAddr).Hex() {
		t.Fatalf("expected escrow contract recipient, got %s", tx.To().Hex())
	}
	// 原生币注资随交易携带
	if tx.Value().Int64() != 5000 {
		t.Fatalf("expected value 5000, got %s", tx.Value())
	}

	method, ok := g.ABI().Methods["createClaimLink"]
	if !ok {
		t.Fatalf("missing createClaimLink")
	}
	if common.Bytes2Hex(tx.Data()[:4]) != common.Bytes2Hex(method.ID) {
		t.Fatalf("calldata does not target createClaimLink")
	}
	if escrowId != DeriveEscrowId("link-1") {
		t.Fatalf("unexpected escrow id %s", escrowId.Hex())
	}
}

func TestBuildCreateToken(t *testing.T) {
	g := newTestGateway(t)

	txns, _, err := g.BuildCreate(context.Background(), CreateRequest{
		LinkId:        "link-2",
		SenderAddress: senderAddr,
		Receiver:      "0x2222222222222222222222222222222222222222",
		Amount:        5000,
		Currency:      model.CurrencyToken,
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	// 稳定币注资需要 approve + 创建两笔
	if len(txns) != 2 {
		t.Fatalf("token create should be two transactions, got %d", len(txns))
	}

	approve, create := txns[0], txns[1]
	if approve.To().Hex() != common.HexToAddress(tokenAddr).Hex() {
		t.Fatalf("approve should target token contract, got %s", approve.To().Hex())
	}
	if create.To().Hex() != common.HexToAddress(escrowAddr).Hex() {
		t.Fatalf("create should target escrow contract, got %s", create.To().Hex())
	}
	if create.Nonce() != approve.Nonce()+1 {
		t.Fatalf("create nonce must follow approve nonce: %d vs %d", create.Nonce(), approve.Nonce())
	}
	if create.Value().Sign() != 0 {
		t.Fatalf("token create should carry no native value")
	}
}

func TestBuildCreateRejectsBadReceiver(t *testing.T) {
	g := newTestGateway(t)

	_, _, err := g.BuildCreate(context.Background(), CreateRequest{
		LinkId:        "link-3",
		SenderAddress: senderAddr,
		Receiver:      "not-an-address",
		Amount:        100,
		Currency:      model.CurrencyNative,
	})
	if err == nil {
		t.Fatalf("expected invalid receiver to fail")
	}
}

func TestBuildClaimAndCancel(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	escrowId := DeriveEscrowId("link-9").Hex()

	claimTx, err := g.BuildClaim(ctx, escrowId, senderAddr)
	if err != nil {
		t.Fatalf("build claim failed: %v", err)
	}
	if claimTx.To().Hex() != common.HexToAddress(escrowAddr).Hex() {
		t.Fatalf("claim must target the escrow contract, got %s", claimTx.To().Hex())
	}
	if !bytes.Equal(claimTx.Data()[:4], g.ABI().Methods["claim"].ID) {
		t.Fatalf("claim calldata must carry the claim selector")
	}

	cancelTx, err := g.BuildCancel(ctx, escrowId, senderAddr)
	if err != nil {
		t.Fatalf("build cancel failed: %v", err)
	}
	if cancelTx.To().Hex() != common.HexToAddress(escrowAddr).Hex() {
		t.Fatalf("cancel must target the escrow contract, got %s", cancelTx.To().Hex())
	}
	if !bytes.Equal(cancelTx.Data()[:4], g.ABI().Methods["cancel"].ID) {
		t.Fatalf("cancel calldata must carry the cancel selector")
	}
	if cancelTx.Value().Sign() != 0 {
		t.Fatalf("cancel should carry no native value")
	}
}
