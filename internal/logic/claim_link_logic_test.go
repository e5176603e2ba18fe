package logic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blues/spl/internal/chain"
	"github.com/blues/spl/internal/config"
	"github.com/blues/spl/internal/escrow"
	"github.com/blues/spl/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

func newTestLink(receiver string) *model.ClaimLinkModel {
	return &model.ClaimLinkModel{
		SenderAddress:   addrA,
		ReceiverAddress: receiver,
		Amount:          5000,
		Currency:        model.CurrencyNative,
	}
}

func TestCreateClaimLinkValidation(t *testing.T) {
	logic := NewClaimLinkLogic(newTestStore(t), nil, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(l *model.ClaimLinkModel)
	}{
		{"zero amount", func(l *model.ClaimLinkModel) { l.Amount = 0 }},
		{"bad currency", func(l *model.ClaimLinkModel) { l.Currency = "doge" }},
		{"bad sender", func(l *model.ClaimLinkModel) { l.SenderAddress = "nope" }},
		{"bad receiver", func(l *model.ClaimLinkModel) { l.ReceiverAddress = "nope" }},
		{"self receiver", func(l *model.ClaimLinkModel) { l.ReceiverAddress = l.SenderAddress }},
		{"past expiry", func(l *model.ClaimLinkModel) {
			past := time.Now().Add(-time.Hour)
			l.ExpiryDate = &past
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLink("")
			tc.mutate(l)
			if err := logic.CreateClaimLink(ctx, l, nil); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestClaimLifecycle(t *testing.T) {
	logic := NewClaimLinkLogic(newTestStore(t), nil, nil)
	ctx := context.Background()

	l := newTestLink("")
	if err := logic.CreateClaimLink(ctx, l, nil); err != nil {
		t.Fatalf("failed to create claim link: %v", err)
	}
	if l.Id == "" {
		t.Fatalf("expected generated id")
	}

	claimed, err := logic.Claim(ctx, l.Id, addrB, nil)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if !claimed.Claimed || claimed.Status != model.ClaimLinkStatusClaimed {
		t.Fatalf("expected claimed link, got claimed=%v status=%s", claimed.Claimed, claimed.Status)
	}
	if claimed.ClaimedBy != addrB {
		t.Fatalf("expected claimer %s, got %s", addrB, claimed.ClaimedBy)
	}
	if claimed.ClaimedAt == nil {
		t.Fatalf("expected claimed_at set")
	}

	// 二次领取失败
	if _, err := logic.Claim(ctx, l.Id, addrC, nil); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaimReceiverRestrictions(t *testing.T) {
	logic := NewClaimLinkLogic(newTestStore(t), nil, nil)
	ctx := context.Background()

	l := newTestLink(addrB)
	if err := logic.CreateClaimLink(ctx, l, nil); err != nil {
		t.Fatalf("failed to create claim link: %v", err)
	}

	// 指定接收方时别人不能领
	if _, err := logic.Claim(ctx, l.Id, addrC, nil); !errors.Is(err, ErrReceiverMismatch) {
		t.Fatalf("expected ErrReceiverMismatch, got %v", err)
	}
	// 发送方自己不能领
	if _, err := logic.Claim(ctx, l.Id, addrA, nil); !errors.Is(err, ErrSelfClaimForbidden) {
		t.Fatalf("expected ErrSelfClaimForbidden, got %v", err)
	}
	// 指定接收方可以领
	if _, err := logic.Claim(ctx, l.Id, addrB, nil); err != nil {
		t.Fatalf("claim by designated receiver failed: %v", err)
	}
}

func TestClaimSelfForbiddenOnOpenLink(t *testing.T) {
	logic := NewClaimLinkLogic(newTestStore(t), nil, nil)
	ctx := context.Background()

	l := newTestLink("")
	if err := logic.CreateClaimLink(ctx, l, nil); err != nil {
		t.Fatalf("failed to create claim link: %v", err)
	}

	if _, err := logic.Claim(ctx, l.Id, addrA, nil); !errors.Is(err, ErrSelfClaimForbidden) {
		t.Fatalf("expected ErrSelfClaimForbidden, got %v", err)
	}
}

func TestClaimExpiredLink(t *testing.T) {
	st := newTestStore(t)
	logic := NewClaimLinkLogic(st, nil, nil)
	ctx := context.Background()

	l := newTestLink("")
	future := time.Now().Add(time.Hour)
	l.ExpiryDate = &future
	if err := logic.CreateClaimLink(ctx, l, nil); err != nil {
		t.Fatalf("failed to create claim link: %v", err)
	}

	past := time.Now().Add(-time.Minute)
	if err := st.DB().Model(&model.ClaimLinkModel{}).Where("id = ?", l.Id).
		Update("expiry_date", past).Error; err != nil {
		t.Fatalf("failed to expire link: %v", err)
	}

	if _, err := logic.Claim(ctx, l.Id, addrB, nil); !errors.Is(err, ErrLinkExpired) {
		t.Fatalf("expected ErrLinkExpired, got %v", err)
	}
}

func TestCancelClaimLink(t *testing.T) {
	logic := NewClaimLinkLogic(newTestStore(t), nil, nil)
	ctx := context.Background()

	l := newTestLink("")
	if err := logic.CreateClaimLink(ctx, l, nil); err != nil {
		t.Fatalf("failed to create claim link: %v", err)
	}

	// 只有发送方能取消
	if _, err := logic.Cancel(ctx, l.Id, addrB, nil); !errors.Is(err, ErrNotSender) {
		t.Fatalf("expected ErrNotSender, got %v", err)
	}

	cancelled, err := logic.Cancel(ctx, l.Id, addrA, nil)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != model.ClaimLinkStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", cancelled.Status)
	}

	// 取消后不能再领取
	if _, err := logic.Claim(ctx, l.Id, addrB, nil); !errors.Is(err, ErrLinkNotActive) {
		t.Fatalf("expected ErrLinkNotActive, got %v", err)
	}
}

func TestCancelClaimedLink(t *testing.T) {
	logic := NewClaimLinkLogic(newTestStore(t), nil, nil)
	ctx := context.Background()

	l := newTestLink("")
	if err := logic.CreateClaimLink(ctx, l, nil); err != nil {
		t.Fatalf("failed to create claim link: %v", err)
	}
	if _, err := logic.Claim(ctx, l.Id, addrB, nil); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if _, err := logic.Cancel(ctx, l.Id, addrA, nil); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaimAfterExpirySweep(t *testing.T) {
	st := newTestStore(t)
	logic := NewClaimLinkLogic(st, nil, nil)
	ctx := context.Background()

	l := newTestLink("")
	future := time.Now().Add(time.Hour)
	l.ExpiryDate = &future
	if err := logic.CreateClaimLink(ctx, l, nil); err != nil {
		t.Fatalf("failed to create claim link: %v", err)
	}

	past := time.Now().Add(-time.Minute)
	if err := st.DB().Model(&model.ClaimLinkModel{}).Where("id = ?", l.Id).
		Update("expiry_date", past).Error; err != nil {
		t.Fatalf("failed to expire link: %v", err)
	}
	swept, err := logic.MarkExpiredLinks(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept link, got %d", swept)
	}

	// 巡检修正状态前后领取都按过期返回
	if _, err := logic.Claim(ctx, l.Id, addrB, nil); !errors.Is(err, ErrLinkExpired) {
		t.Fatalf("expected ErrLinkExpired after sweep, got %v", err)
	}
}

func TestPrepareCancelUnescrowedLink(t *testing.T) {
	logic := NewClaimLinkLogic(newTestStore(t), nil, nil)
	ctx := context.Background()

	l := newTestLink("")
	if err := logic.CreateClaimLink(ctx, l, nil); err != nil {
		t.Fatalf("failed to create claim link: %v", err)
	}

	// 只有发送方能预取消
	if _, err := logic.PrepareCancel(ctx, l.Id, addrB); !errors.Is(err, ErrNotSender) {
		t.Fatalf("expected ErrNotSender, got %v", err)
	}

	// 无托管链接的取消不需要签名交易
	tx, err := logic.PrepareCancel(ctx, l.Id, addrA)
	if err != nil {
		t.Fatalf("prepare cancel failed: %v", err)
	}
	if tx != nil {
		t.Fatalf("expected no transaction for unescrowed link")
	}

	// 已领取后不能再取消
	if _, err := logic.Claim(ctx, l.Id, addrB, nil); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := logic.PrepareCancel(ctx, l.Id, addrA); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestPrepareCancelEscrowedLink(t *testing.T) {
	st := newTestStore(t)
	cfg := config.ChainConfig{
		ChainId:        1337,
		Confirmations:  2,
		ConfirmTimeout: 5,
		EscrowAddress:  "0x00000000000000000000000000000000000000ee",
		TokenAddress:   "0x00000000000000000000000000000000000000aa",
	}
	client, err := chain.NewClientWithBackend(newFakeChainBackend(), cfg)
	if err != nil {
		t.Fatalf("failed to create chain client: %v", err)
	}
	gw := escrow.NewGateway(client, cfg)
	logic := NewClaimLinkLogic(st, client, gw)
	ctx := context.Background()

	l := newTestLink("")
	l.Id = newRecordId()
	l.Status = model.ClaimLinkStatusActive
	l.EscrowId = escrow.DeriveEscrowId(l.Id).Hex()
	l.ContractAddress = cfg.EscrowAddress
	if err := st.DB().Create(l).Error; err != nil {
		t.Fatalf("failed to seed escrowed link: %v", err)
	}

	tx, err := logic.PrepareCancel(ctx, l.Id, addrA)
	if err != nil {
		t.Fatalf("prepare cancel failed: %v", err)
	}
	if tx == nil {
		t.Fatalf("expected unsigned cancel transaction for escrowed link")
	}
	if tx.To().Hex() != common.HexToAddress(cfg.EscrowAddress).Hex() {
		t.Fatalf("cancel must target the escrow contract, got %s", tx.To().Hex())
	}
	if len(tx.Data()) != 4+32 {
		t.Fatalf("unexpected cancel calldata length %d", len(tx.Data()))
	}
}

func TestMarkExpiredLinks(t *testing.T) {
	st := newTestStore(t)
	logic := NewClaimLinkLogic(st, nil, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		l := newTestLink("")
		future := time.Now().Add(time.Hour)
		l.ExpiryDate = &future
		if err := logic.CreateClaimLink(ctx, l, nil); err != nil {
			t.Fatalf("failed to create claim link: %v", err)
		}
		ids = append(ids, l.Id)
	}

	// 两条过期，一条仍有效
	past := time.Now().Add(-time.Minute)
	for _, id := range ids[:2] {
		if err := st.DB().Model(&model.ClaimLinkModel{}).Where("id = ?", id).
			Update("expiry_date", past).Error; err != nil {
			t.Fatalf("failed to expire link: %v", err)
		}
	}

	swept, err := logic.MarkExpiredLinks(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 2 {
		t.Fatalf("expected 2 swept links, got %d", swept)
	}

	active, err := logic.GetClaimLink(ctx, ids[2])
	if err != nil {
		t.Fatalf("failed to fetch link: %v", err)
	}
	if active.Status != model.ClaimLinkStatusActive {
		t.Fatalf("expected active status, got %s", active.Status)
	}
}
