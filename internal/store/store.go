package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/blues/spl/internal/config"
	"github.com/blues/spl/internal/logger"
	"github.com/blues/spl/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentEnvelope 降级存储里的支付快照（实体加贡献记录）
type paymentEnvelope struct {
	Payment      model.PaymentModel       `json:"payment"`
	Contributors []model.ContributorModel `json:"contributors"`
}

// Store 双后端记录存储。主存储为数据库（唯一的事实来源），
// 降级存储只在主存储不可用时顶上：读走快照，写先缓冲再由回放任务补回。
type Store struct {
	db *gorm.DB
	fb Fallback
}

// New 创建记录存储，按配置选择降级后端
func New(db *gorm.DB, cfg config.FallbackConfig) (*Store, error) {
	var fb Fallback
	var err error

	switch cfg.Backend {
	case "file":
		fb, err = NewFileFallback(cfg.Path)
	case "redis":
		fb, err = NewRedisFallback(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "":
		logger.Warn("Fallback store not configured, running on primary only")
	default:
		return nil, fmt.Errorf("unsupported fallback backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fallback store: %w", err)
	}

	return &Store{db: db, fb: fb}, nil
}

// NewWithFallback 直接注入降级后端
func NewWithFallback(db *gorm.DB, fb Fallback) *Store {
	return &Store{db: db, fb: fb}
}

// DB 主存储句柄
func (s *Store) DB() *gorm.DB {
	return s.db
}

// HasFallback 是否配置了降级存储
func (s *Store) HasFallback() bool {
	return s.fb != nil
}

// ListPayments 按创建时间倒序取全部支付请求。
// 主存储失败时从降级存储读快照。
func (s *Store) ListPayments(ctx context.Context) ([]model.PaymentModel, error) {
	var payments []model.PaymentModel
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&payments).Error
	if err == nil {
		return payments, nil
	}

	logger.Warn("Primary store failed listing payments, falling back: %v", err)
	if s.fb == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	records, ferr := s.fb.LoadAll(ctx, KindPayment)
	if ferr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ferr)
	}

	payments = make([]model.PaymentModel, 0, len(records))
	for _, rec := range records {
		var env paymentEnvelope
		if err := json.Unmarshal(rec.Entity, &env); err != nil {
			logger.Error("Corrupt fallback payment record: %v", err)
			continue
		}
		payments = append(payments, env.Payment)
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})
	return payments, nil
}

// GetPayment 按id取支付请求及其贡献记录。
// 主存储查不到（或不可用）时再查降级存储。
func (s *Store) GetPayment(ctx context.Context, id string) (*model.PaymentModel, []model.ContributorModel, error) {
	var payment model.PaymentModel
	err := s.db.WithContext(ctx).First(&payment, "id = ?", id).Error
	if err == nil {
		var contributors []model.ContributorModel
		if err := s.db.WithContext(ctx).
			Where("payment_id = ?", id).
			Order("created_at ASC").
			Find(&contributors).Error; err != nil {
			return nil, nil, err
		}
		return &payment, contributors, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Warn("Primary store failed fetching payment %s, falling back: %v", id, err)
	}
	if s.fb == nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	rec, ok, ferr := s.fb.Get(ctx, KindPayment, id)
	if ferr != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, ferr)
	}
	if !ok {
		return nil, nil, ErrNotFound
	}

	var env paymentEnvelope
	if uerr := json.Unmarshal(rec.Entity, &env); uerr != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, uerr)
	}
	return &env.Payment, env.Contributors, nil
}

// ListClaimLinks 按创建时间倒序取全部领取链接
func (s *Store) ListClaimLinks(ctx context.Context) ([]model.ClaimLinkModel, error) {
	var links []model.ClaimLinkModel
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&links).Error
	if err == nil {
		return links, nil
	}

	logger.Warn("Primary store failed listing claim links, falling back: %v", err)
	if s.fb == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	records, ferr := s.fb.LoadAll(ctx, KindClaimLink)
	if ferr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ferr)
	}

	links = make([]model.ClaimLinkModel, 0, len(records))
	for _, rec := range records {
		var link model.ClaimLinkModel
		if err := json.Unmarshal(rec.Entity, &link); err != nil {
			logger.Error("Corrupt fallback claim link record: %v", err)
			continue
		}
		links = append(links, link)
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})
	return links, nil
}

// GetClaimLink 按id取领取链接
func (s *Store) GetClaimLink(ctx context.Context, id string) (*model.ClaimLinkModel, error) {
	var link model.ClaimLinkModel
	err := s.db.WithContext(ctx).First(&link, "id = ?", id).Error
	if err == nil {
		return &link, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Warn("Primary store failed fetching claim link %s, falling back: %v", id, err)
	}
	if s.fb == nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	rec, ok, ferr := s.fb.Get(ctx, KindClaimLink, id)
	if ferr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ferr)
	}
	if !ok {
		return nil, ErrNotFound
	}

	var fallbackLink model.ClaimLinkModel
	if uerr := json.Unmarshal(rec.Entity, &fallbackLink); uerr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, uerr)
	}
	return &fallbackLink, nil
}

// BackupPayment 主存储写入失败后把支付快照缓冲到降级存储
func (s *Store) BackupPayment(ctx context.Context, payment *model.PaymentModel, contributors []model.ContributorModel) error {
	if s.fb == nil {
		return ErrNotConfigured
	}

	raw, err := json.Marshal(paymentEnvelope{Payment: *payment, Contributors: contributors})
	if err != nil {
		return fmt.Errorf("failed to encode payment backup: %w", err)
	}

	return s.fb.Put(ctx, KindPayment, payment.Id, Record{
		Entity:    raw,
		Status:    string(payment.Status),
		TxHash:    payment.TxHash,
		UpdatedAt: time.Now(),
		Synced:    false,
	})
}

// BackupClaimLink 主存储写入失败后把领取链接快照缓冲到降级存储
func (s *Store) BackupClaimLink(ctx context.Context, link *model.ClaimLinkModel) error {
	if s.fb == nil {
		return ErrNotConfigured
	}

	raw, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to encode claim link backup: %w", err)
	}

	return s.fb.Put(ctx, KindClaimLink, link.Id, Record{
		Entity:    raw,
		Status:    string(link.Status),
		TxHash:    link.TxHash,
		UpdatedAt: time.Now(),
		Synced:    false,
	})
}

// ReplayPending 把降级存储里未同步的写入回放到主存储，返回回放条数
func (s *Store) ReplayPending(ctx context.Context) (int, error) {
	if s.fb == nil {
		return 0, nil
	}

	replayed := 0

	payments, err := s.fb.LoadAll(ctx, KindPayment)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for id, rec := range payments {
		if rec.Synced {
			continue
		}
		var env paymentEnvelope
		if err := json.Unmarshal(rec.Entity, &env); err != nil {
			logger.Error("Skipping corrupt fallback payment %s: %v", id, err)
			continue
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&env.Payment).Error; err != nil {
				return err
			}
			for i := range env.Contributors {
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&env.Contributors[i]).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			logger.Warn("Failed to replay payment %s: %v", id, err)
			continue
		}
		if err := s.fb.MarkSynced(ctx, KindPayment, id); err != nil {
			logger.Warn("Failed to mark payment %s synced: %v", id, err)
		}
		replayed++
	}

	links, err := s.fb.LoadAll(ctx, KindClaimLink)
	if err != nil {
		return replayed, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for id, rec := range links {
		if rec.Synced {
			continue
		}
		var link model.ClaimLinkModel
		if err := json.Unmarshal(rec.Entity, &link); err != nil {
			logger.Error("Skipping corrupt fallback claim link %s: %v", id, err)
			continue
		}

		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&link).Error; err != nil {
			logger.Warn("Failed to replay claim link %s: %v", id, err)
			continue
		}
		if err := s.fb.MarkSynced(ctx, KindClaimLink, id); err != nil {
			logger.Warn("Failed to mark claim link %s synced: %v", id, err)
		}
		replayed++
	}

	return replayed, nil
}
