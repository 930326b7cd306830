package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"rallysphere/pkg/task"
	"rallysphere/pkg/taskname"
	"rallysphere/services/ledger"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	tasks task.Enqueuer
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Node  *snowflake.Node
	Tasks task.Enqueuer
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		tasks: p.Tasks,
	}
}

// EnqueueCreditExpiryRun records a job row and hands the expiry sweep to the
// worker queue.
func (s *Service) EnqueueCreditExpiryRun(ctx context.Context) error {
	payload, err := json.Marshal(&ledger.CreditExpiryPayload{})
	if err != nil {
		return err
	}

	now := time.Now()
	job := Job{
		ID:        s.node.Generate().String(),
		TaskType:  taskname.CreditExpiryRun,
		Status:    "pending",
		StartedAt: &now,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return err
	}

	if _, err := s.tasks.Enqueue(asynq.NewTask(taskname.CreditExpiryRun, payload, asynq.Queue("low"))); err != nil {
		s.db.WithContext(ctx).Model(&job).Updates(map[string]any{
			"status":    "failed",
			"error_msg": err.Error(),
		})
		return err
	}

	completed := time.Now()
	s.db.WithContext(ctx).Model(&job).Updates(map[string]any{
		"status":       "enqueued",
		"completed_at": completed,
	})

	zap.L().Info("enqueued credit expiry run", zap.String("job_id", job.ID))
	return nil
}

// EnqueueChainVerify schedules the nightly ledger integrity check.
func (s *Service) EnqueueChainVerify(ctx context.Context) error {
	job := Job{
		ID:       s.node.Generate().String(),
		TaskType: taskname.ChainVerify,
		Status:   "pending",
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return err
	}

	if _, err := s.tasks.Enqueue(asynq.NewTask(taskname.ChainVerify, nil, asynq.Queue("low"))); err != nil {
		s.db.WithContext(ctx).Model(&job).Updates(map[string]any{
			"status":    "failed",
			"error_msg": err.Error(),
		})
		return err
	}

	completed := time.Now()
	s.db.WithContext(ctx).Model(&job).Updates(map[string]any{
		"status":       "enqueued",
		"completed_at": completed,
	})
	return nil
}
