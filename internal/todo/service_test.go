package todo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/todoman/internal/model"
)

// memoryTodoRepo はTodoRepositoryのインメモリ実装。
// UpdateByIDAndCreatorはストア側の条件付き更新と同じ規則でcompletedAtを決める。
type memoryTodoRepo struct {
	mu    sync.Mutex
	todos []*model.Todo
	err   error
}

func (r *memoryTodoRepo) Create(ctx context.Context, t *model.Todo) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.todos = append(r.todos, &cp)
	return nil
}

func (r *memoryTodoRepo) ListByCreator(ctx context.Context, creatorID string) ([]*model.Todo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Todo
	for _, t := range r.todos {
		if t.CreatorID == creatorID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryTodoRepo) find(id, creatorID string) (int, *model.Todo) {
	for i, t := range r.todos {
		if t.ID == id && t.CreatorID == creatorID {
			return i, t
		}
	}
	return -1, nil
}

func (r *memoryTodoRepo) FindByIDAndCreator(ctx context.Context, id, creatorID string) (*model.Todo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, t := r.find(id, creatorID)
	if t == nil {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memoryTodoRepo) DeleteByIDAndCreator(ctx context.Context, id, creatorID string) (*model.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, t := r.find(id, creatorID)
	if t == nil {
		return nil, nil
	}
	r.todos = append(r.todos[:i], r.todos[i+1:]...)
	return t, nil
}

func (r *memoryTodoRepo) UpdateByIDAndCreator(ctx context.Context, id, creatorID string, patch model.TodoPatch, now time.Time) (*model.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, t := r.find(id, creatorID)
	if t == nil {
		return nil, nil
	}
	if patch.Text != nil {
		t.Text = *patch.Text
	}
	if patch.Completed != nil {
		if *patch.Completed {
			if t.CompletedAt == nil {
				at := now
				t.CompletedAt = &at
			}
		} else {
			t.CompletedAt = nil
		}
		t.Completed = *patch.Completed
	}
	t.UpdatedAt = now
	cp := *t
	return &cp, nil
}

func (r *memoryTodoRepo) DeleteByCreator(ctx context.Context, creatorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.todos[:0]
	for _, t := range r.todos {
		if t.CreatorID != creatorID {
			kept = append(kept, t)
		}
	}
	r.todos = kept
	return nil
}

type countingRecorder struct{ n int }

func (c *countingRecorder) RecordTodoCreated() { c.n++ }

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func newTestService(repo *memoryTodoRepo) (*Service, *time.Time) {
	svc := NewService(repo, nil)
	clock := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	return svc, &clock
}

func assertNotFound(t *testing.T, err error) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeTodoNotFound {
		t.Fatalf("expected TODO_NOT_FOUND, got %v", err)
	}
}

// --- Create ---

func TestService_Create_TrimsText(t *testing.T) {
	repo := &memoryTodoRepo{}
	rec := &countingRecorder{}
	svc := NewService(repo, rec)

	todo, err := svc.Create(context.Background(), "owner-1", "  buy milk  ")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if todo.Text != "buy milk" {
		t.Errorf("Text = %q, want %q", todo.Text, "buy milk")
	}
	if todo.Completed || todo.CompletedAt != nil {
		t.Errorf("new todo must be incomplete, got %+v", todo)
	}
	if todo.CreatorID != "owner-1" {
		t.Errorf("CreatorID = %q, want %q", todo.CreatorID, "owner-1")
	}
	if todo.ID == "" {
		t.Error("expected generated ID")
	}
	if rec.n != 1 {
		t.Errorf("RecordTodoCreated called %d times, want 1", rec.n)
	}
}

// TestService_Create_KeepsTextVerbatim は山括弧やアンパサンドを含むテキストが変更されずに保存されることを検証する。
func TestService_Create_KeepsTextVerbatim(t *testing.T) {
	repo := &memoryTodoRepo{}
	svc, _ := newTestService(repo)
	ctx := context.Background()

	for _, text := range []string{
		"Learn List<T> generics",
		"x <y and z> w",
		"<todo>",
		"<p> </p>",
		"<script>x</script>",
		"salt & pepper &amp; more",
	} {
		created, err := svc.Create(ctx, "owner-1", text)
		if err != nil {
			t.Errorf("Create(%q) returned error: %v", text, err)
			continue
		}
		if created.Text != text {
			t.Errorf("Create(%q).Text = %q, want unchanged", text, created.Text)
		}
		stored, err := svc.GetFor(ctx, "owner-1", created.ID)
		if err != nil {
			t.Fatalf("GetFor returned error: %v", err)
		}
		if stored.Text != text {
			t.Errorf("stored text = %q, want %q", stored.Text, text)
		}
	}
}

func TestService_Create_RejectsEmptyText(t *testing.T) {
	svc, _ := newTestService(&memoryTodoRepo{})

	for _, text := range []string{"", "   ", "\t\n"} {
		_, err := svc.Create(context.Background(), "owner-1", text)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
			t.Errorf("Create(%q): expected VALIDATION_ERROR, got %v", text, err)
		}
	}
}

func TestService_Create_StoreError(t *testing.T) {
	svc, _ := newTestService(&memoryTodoRepo{err: errors.New("db down")})

	_, err := svc.Create(context.Background(), "owner-1", "task")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("store failure must not be an APIError, got %v", apiErr)
	}
}

// --- 所有者による絞り込み ---

// TestService_OwnershipScoping は他ユーザーのTODOが一覧・取得・更新・削除のいずれからも見えないことを検証する。
func TestService_OwnershipScoping(t *testing.T) {
	repo := &memoryTodoRepo{}
	svc, _ := newTestService(repo)
	ctx := context.Background()

	mine, _ := svc.Create(ctx, "alice", "alice task")
	theirs, _ := svc.Create(ctx, "bob", "bob task")

	list, err := svc.ListFor(ctx, "alice")
	if err != nil {
		t.Fatalf("ListFor returned error: %v", err)
	}
	if len(list) != 1 || list[0].ID != mine.ID {
		t.Errorf("ListFor(alice) = %v, want only alice's todo", list)
	}

	_, err = svc.GetFor(ctx, "alice", theirs.ID)
	assertNotFound(t, err)

	_, err = svc.UpdateFor(ctx, "alice", theirs.ID, model.TodoPatch{Text: strPtr("hijacked")})
	assertNotFound(t, err)

	_, err = svc.DeleteFor(ctx, "alice", theirs.ID)
	assertNotFound(t, err)

	still, err := svc.GetFor(ctx, "bob", theirs.ID)
	if err != nil {
		t.Fatalf("GetFor(bob) returned error: %v", err)
	}
	if still.Text != "bob task" {
		t.Errorf("bob's todo was modified: %+v", still)
	}
}

func TestService_ListFor_EmptyIsNonNil(t *testing.T) {
	svc, _ := newTestService(&memoryTodoRepo{})

	list, err := svc.ListFor(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ListFor returned error: %v", err)
	}
	if list == nil {
		t.Error("expected non-nil empty slice")
	}
}

func TestService_GetFor_UnknownID(t *testing.T) {
	svc, _ := newTestService(&memoryTodoRepo{})

	_, err := svc.GetFor(context.Background(), "alice", "does-not-exist")
	assertNotFound(t, err)
}

func TestService_DeleteFor_ReturnsDeleted(t *testing.T) {
	repo := &memoryTodoRepo{}
	svc, _ := newTestService(repo)
	ctx := context.Background()

	created, _ := svc.Create(ctx, "alice", "temp")
	deleted, err := svc.DeleteFor(ctx, "alice", created.ID)
	if err != nil {
		t.Fatalf("DeleteFor returned error: %v", err)
	}
	if deleted.ID != created.ID || deleted.Text != "temp" {
		t.Errorf("unexpected deleted todo: %+v", deleted)
	}

	_, err = svc.DeleteFor(ctx, "alice", created.ID)
	assertNotFound(t, err)
}

// --- UpdateFor ---

// TestService_UpdateFor_CompletedAtTransitions はcompletedAtの設定・保持・クリアを検証する。
func TestService_UpdateFor_CompletedAtTransitions(t *testing.T) {
	repo := &memoryTodoRepo{}
	svc, clock := newTestService(repo)
	ctx := context.Background()

	created, _ := svc.Create(ctx, "alice", "task")
	firstCompletion := *clock

	done, err := svc.UpdateFor(ctx, "alice", created.ID, model.TodoPatch{Completed: boolPtr(true)})
	if err != nil {
		t.Fatalf("UpdateFor returned error: %v", err)
	}
	if !done.Completed || done.CompletedAt == nil || !done.CompletedAt.Equal(firstCompletion) {
		t.Fatalf("expected completedAt %v, got %+v", firstCompletion, done)
	}

	// 完了済みを再度完了にしても日時は変わらない
	*clock = clock.Add(time.Hour)
	again, err := svc.UpdateFor(ctx, "alice", created.ID, model.TodoPatch{Completed: boolPtr(true)})
	if err != nil {
		t.Fatalf("UpdateFor returned error: %v", err)
	}
	if !again.CompletedAt.Equal(firstCompletion) {
		t.Errorf("completedAt changed to %v, want %v", again.CompletedAt, firstCompletion)
	}

	// falseへの更新は何度行ってもcompletedAtをクリアする
	for i := 0; i < 2; i++ {
		undone, err := svc.UpdateFor(ctx, "alice", created.ID, model.TodoPatch{Completed: boolPtr(false)})
		if err != nil {
			t.Fatalf("UpdateFor returned error: %v", err)
		}
		if undone.Completed || undone.CompletedAt != nil {
			t.Errorf("iteration %d: expected cleared completion, got %+v", i, undone)
		}
	}
}

func TestService_UpdateFor_TextValidation(t *testing.T) {
	repo := &memoryTodoRepo{}
	svc, _ := newTestService(repo)
	ctx := context.Background()

	created, _ := svc.Create(ctx, "alice", "task")

	_, err := svc.UpdateFor(ctx, "alice", created.ID, model.TodoPatch{Text: strPtr("   ")})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}

	updated, err := svc.UpdateFor(ctx, "alice", created.ID, model.TodoPatch{Text: strPtr(" <i>renamed</i> ")})
	if err != nil {
		t.Fatalf("UpdateFor returned error: %v", err)
	}
	if updated.Text != "<i>renamed</i>" {
		t.Errorf("Text = %q, want %q", updated.Text, "<i>renamed</i>")
	}
	if updated.Completed {
		t.Error("completed must not change when absent from patch")
	}
}
