// Package todo はTODOのドメインロジックを提供する。
// すべての操作は所有者IDで絞り込まれ、他ユーザーのTODOは存在しないものとして扱う。
package todo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
)

// CreationRecorder はTODO作成の記録インターフェース。
type CreationRecorder interface {
	RecordTodoCreated()
}

// Service はTODO管理のサービス層。
type Service struct {
	repo     repository.TodoRepository
	recorder CreationRecorder
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.TodoRepository, recorder CreationRecorder) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		repo:     repo,
		recorder: recorder,
		now:      time.Now,
	}
}

// Create は所有者のTODOを作成する。
func (s *Service) Create(ctx context.Context, ownerID, text string) (*model.Todo, error) {
	text, err := s.cleanText(text)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := &model.Todo{
		ID:        uuid.New().String(),
		Text:      text,
		CreatorID: ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("TODOの作成に失敗しました: %w", err)
	}

	s.recorder.RecordTodoCreated()
	slog.Debug("todo created",
		slog.String("user_id", ownerID),
		slog.String("todo_id", t.ID),
	)
	return t, nil
}

// ListFor は所有者のTODO一覧を返す。TODOが無い場合は空のスライスを返す。
func (s *Service) ListFor(ctx context.Context, ownerID string) ([]*model.Todo, error) {
	todos, err := s.repo.ListByCreator(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("TODO一覧の取得に失敗しました: %w", err)
	}
	if todos == nil {
		todos = []*model.Todo{}
	}
	return todos, nil
}

// GetFor は所有者のTODOを1件返す。
// 不正なID、存在しないID、他ユーザーのTODOはいずれもTODO_NOT_FOUNDとなる。
func (s *Service) GetFor(ctx context.Context, ownerID, todoID string) (*model.Todo, error) {
	t, err := s.repo.FindByIDAndCreator(ctx, todoID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("TODOの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewTodoNotFoundError(todoID)
	}
	return t, nil
}

// DeleteFor は所有者のTODOを削除し、削除したTODOを返す。
func (s *Service) DeleteFor(ctx context.Context, ownerID, todoID string) (*model.Todo, error) {
	t, err := s.repo.DeleteByIDAndCreator(ctx, todoID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("TODOの削除に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewTodoNotFoundError(todoID)
	}
	return t, nil
}

// UpdateFor は所有者のTODOに部分更新を適用し、更新後のTODOを返す。
// completedをtrueにした場合、未完了からの遷移ならcompletedAtを現在時刻にし、完了済みなら保持する。
// completedをfalseにした場合、completedAtは常にクリアされる。
func (s *Service) UpdateFor(ctx context.Context, ownerID, todoID string, patch model.TodoPatch) (*model.Todo, error) {
	if patch.Text != nil {
		text, err := s.cleanText(*patch.Text)
		if err != nil {
			return nil, err
		}
		patch.Text = &text
	}

	t, err := s.repo.UpdateByIDAndCreator(ctx, todoID, ownerID, patch, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("TODOの更新に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewTodoNotFoundError(todoID)
	}
	return t, nil
}

// cleanText は前後の空白を落とし、空でないことを検証する。
// 本文はそのまま保存し、表示時のエスケープは描画側に任せる。
func (s *Service) cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", model.NewValidationError("text", "1文字以上で入力してください")
	}
	return text, nil
}
