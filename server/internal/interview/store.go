package interview

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
)

var ErrNotFound = errors.New("interview not found")

// Repository 面试记录存储。
// 会话进行中只追加轮次；结束时写入一次反馈。实现必须并发安全。
type Repository interface {
	// Create 保存新记录；ID 与 CreatedAt 为空时由存储分配。
	Create(ctx context.Context, rec *model.InterviewRecord) (*model.InterviewRecord, error)
	Get(ctx context.Context, id string) (*model.InterviewRecord, error)
	// AppendTurn 追加一条轮次。相同 turn ID 重复写入是幂等的，便于至少一次投递。
	AppendTurn(ctx context.Context, id string, turn model.ConversationTurn) (model.ConversationTurn, error)
	SetFeedback(ctx context.Context, id string, fb model.Feedback) error
	// List 按创建时间倒序返回记录；owner 为空表示不过滤，limit<=0 表示不限。
	List(ctx context.Context, owner string, limit int) ([]*model.InterviewRecord, error)
	Count(ctx context.Context) (int, error)
}

// NewID 生成记录 ID
func NewID() string {
	return "interview-" + uuid.NewString()
}

// NewTurnID 生成轮次 ID
func NewTurnID() string {
	return uuid.NewString()
}
