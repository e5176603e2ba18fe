package task

import (
	"context"
	"time"

	"github.com/blues/spl/internal/config"
	"github.com/blues/spl/internal/logger"
	"github.com/blues/spl/internal/store"
	"github.com/go-co-op/gocron/v2"
)

// ReconcileJob 降级存储回放任务。
// 主存储不可用期间缓冲在降级存储里的写入，由这里周期性补回主存储。
type ReconcileJob struct {
	store  *store.Store
	config *config.Config
}

// NewReconcileJob 创建回放任务
func NewReconcileJob(st *store.Store, cfg *config.Config) *ReconcileJob {
	return &ReconcileJob{store: st, config: cfg}
}

// GetName 获取任务名称
func (j *ReconcileJob) GetName() string {
	return "fallback_reconciler"
}

// GetSchedule 获取调度配置
func (j *ReconcileJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Task.ReconcileInterval) * time.Second)
}

// Execute 执行任务
func (j *ReconcileJob) Execute() {
	if !j.store.HasFallback() {
		return
	}

	replayed, err := j.store.ReplayPending(context.Background())
	if err != nil {
		logger.Error("Fallback replay failed: %v", err)
		return
	}
	if replayed > 0 {
		logger.Info("Replayed %d buffered records into primary store", replayed)
	}
}
