package task

import (
	"context"
	"time"

	"github.com/blues/spl/internal/config"
	"github.com/blues/spl/internal/logger"
	"github.com/blues/spl/internal/logic"
	"github.com/blues/spl/internal/store"
	"github.com/go-co-op/gocron/v2"
)

// LinkExpiryJob 过期巡检任务。
// 把已过截止时间但仍标记active的领取链接批量置为过期。
// 领取路径上的派生判断兜底，这里负责修正落库状态。
type LinkExpiryJob struct {
	claimLogic *logic.ClaimLinkLogic
	config     *config.Config
}

// NewLinkExpiryJob 创建过期巡检任务
func NewLinkExpiryJob(st *store.Store, cfg *config.Config) *LinkExpiryJob {
	return &LinkExpiryJob{
		claimLogic: logic.NewClaimLinkLogic(st, nil, nil),
		config:     cfg,
	}
}

// GetName 获取任务名称
func (j *LinkExpiryJob) GetName() string {
	return "link_expiry_sweeper"
}

// GetSchedule 获取调度配置
func (j *LinkExpiryJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Task.ExpiryInterval) * time.Second)
}

// Execute 执行任务
func (j *LinkExpiryJob) Execute() {
	swept, err := j.claimLogic.MarkExpiredLinks(context.Background())
	if err != nil {
		logger.Error("Failed to sweep expired claim links: %v", err)
		return
	}
	if swept > 0 {
		logger.Info("Marked %d claim links expired", swept)
	}
}
