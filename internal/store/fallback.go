package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("记录不存在")
	// ErrNotConfigured 降级存储未配置
	ErrNotConfigured = errors.New("降级存储未配置")
	// ErrUnavailable 主备存储都不可用
	ErrUnavailable = errors.New("存储不可用")
)

// Kind 实体种类，对应两张表各自的命名空间
type Kind string

const (
	KindPayment   Kind = "payments"
	KindClaimLink Kind = "claim_links"
)

// Record 降级存储里的包装对象：实体快照加少量顶层字段
type Record struct {
	Entity    json.RawMessage `json:"entity"`
	Status    string          `json:"status"`
	TxHash    string          `json:"tx_hash"`
	UpdatedAt time.Time       `json:"updated_at"`
	Synced    bool            `json:"synced"` // 是否已回放到主存储
}

// Fallback 本地降级存储。主存储不可用时读写都落到这里，
// 未同步的写入由回放任务补回主存储。
type Fallback interface {
	Get(ctx context.Context, kind Kind, id string) (*Record, bool, error)
	Put(ctx context.Context, kind Kind, id string, rec Record) error
	LoadAll(ctx context.Context, kind Kind) (map[string]Record, error)
	MarkSynced(ctx context.Context, kind Kind, id string) error
}
