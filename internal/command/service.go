package command

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/pkg/logger"
)

// Service 负责命令的创建与投递。
type Service struct {
	producer Producer
	tracker  *Tracker
}

// NewService 构造命令服务。tracker 可为空，此时 SubmitAndWait 不可用。
func NewService(producer Producer, tracker *Tracker) *Service {
	return &Service{producer: producer, tracker: tracker}
}

// Submit 补全命令 ID 与时间后推送到队列。
func (s *Service) Submit(ctx context.Context, cmd Command) (Command, error) {
	if s == nil || s.producer == nil {
		return cmd, apperrors.New(apperrors.CodeInitializationFailure, "命令服务未初始化")
	}
	if err := cmd.Validate(); err != nil {
		return cmd, err
	}
	if strings.TrimSpace(cmd.ID) == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now().UTC()
	}
	if err := s.producer.Publish(ctx, cmd); err != nil {
		return cmd, apperrors.Wrap(apperrors.CodeQueueFailure, err, "命令投递失败")
	}
	logger.L().Debug("命令已入队", "command_id", cmd.ID, "type", string(cmd.Type))
	return cmd, nil
}

// SubmitAndWait 投递命令并等待处理结果，最长等待 timeout。
func (s *Service) SubmitAndWait(ctx context.Context, cmd Command, timeout time.Duration) (Outcome, error) {
	if s == nil || s.tracker == nil {
		return Outcome{}, apperrors.New(apperrors.CodeInitializationFailure, "命令结果跟踪未启用")
	}
	cmd, err := s.Submit(ctx, cmd)
	if err != nil {
		return Outcome{}, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	o, err := s.tracker.Wait(waitCtx, cmd.ID)
	if err != nil {
		return Outcome{CommandID: cmd.ID, Type: cmd.Type}, apperrors.Wrap(apperrors.CodeTimeout, err, "等待命令结果超时",
			apperrors.WithMetadata("command_id", cmd.ID))
	}
	return o, nil
}

// Outcome 查询命令结果。
func (s *Service) Outcome(id string) (Outcome, bool) {
	if s == nil || s.tracker == nil {
		return Outcome{}, false
	}
	return s.tracker.Get(id)
}
