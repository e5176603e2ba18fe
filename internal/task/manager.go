package task

import (
	"github.com/blues/spl/internal/config"
	"github.com/blues/spl/internal/logger"
	"github.com/blues/spl/internal/store"
	"github.com/go-co-op/gocron/v2"
)

// Job 周期任务
type Job interface {
	GetName() string
	GetSchedule() gocron.JobDefinition
	Execute()
}

// Manager 任务管理器
type Manager struct {
	scheduler gocron.Scheduler
	store     *store.Store
	config    *config.Config
}

// NewManager 创建新的任务管理器
func NewManager(st *store.Store, cfg *config.Config) *Manager {
	s, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal("Failed to create scheduler: %v", err)
	}

	return &Manager{
		scheduler: s,
		store:     st,
		config:    cfg,
	}
}

// Start 启动任务管理器
func Start(st *store.Store, cfg *config.Config) *Manager {
	manager := NewManager(st, cfg)

	// 注册所有任务
	manager.RegisterJobs()

	// 启动调度器
	manager.scheduler.Start()

	logger.Info("Task manager started successfully")
	return manager
}

// RegisterJobs 注册所有任务
func (m *Manager) RegisterJobs() {
	// 链接过期巡检
	m.registerJob(NewLinkExpiryJob(m.store, m.config))
	// 降级存储回放
	m.registerJob(NewReconcileJob(m.store, m.config))
}

func (m *Manager) registerJob(job Job) {
	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		logger.Error("Failed to register job %s: %v", job.GetName(), err)
	}
}

// Stop 停止任务管理器
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
	logger.Info("Task manager stopped")
}
