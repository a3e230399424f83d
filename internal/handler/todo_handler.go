package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/todoman/internal/model"
)

// TodoServiceInterface はTODOハンドラーが必要とするサービスインターフェース。
// すべての操作は所有者IDで絞り込まれる。
type TodoServiceInterface interface {
	Create(ctx context.Context, ownerID, text string) (*model.Todo, error)
	ListFor(ctx context.Context, ownerID string) ([]*model.Todo, error)
	GetFor(ctx context.Context, ownerID, todoID string) (*model.Todo, error)
	DeleteFor(ctx context.Context, ownerID, todoID string) (*model.Todo, error)
	UpdateFor(ctx context.Context, ownerID, todoID string, patch model.TodoPatch) (*model.Todo, error)
}

// TodoHandler はTODO管理のHTTPハンドラー。
type TodoHandler struct {
	service TodoServiceInterface
}

// NewTodoHandler はTodoHandlerを生成する。
func NewTodoHandler(service TodoServiceInterface) *TodoHandler {
	return &TodoHandler{
		service: service,
	}
}

type createTodoRequest struct {
	Text string `json:"text"`
}

// patchTodoRequest はTODO部分更新リクエストのボディ。
// textとcompleted以外のフィールドは無視する。
type patchTodoRequest struct {
	Text      *string `json:"text"`
	Completed *bool   `json:"completed"`
}

// todoResponse はTODOのAPIレスポンス。
type todoResponse struct {
	ID          string     `json:"_id"`
	Text        string     `json:"text"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt"`
	Creator     string     `json:"_creator"`
}

type todoListResponse struct {
	Todos []todoResponse `json:"todos"`
}

type todoEnvelope struct {
	Todo todoResponse `json:"todo"`
}

func toTodoResponse(t *model.Todo) todoResponse {
	return todoResponse{
		ID:          t.ID,
		Text:        t.Text,
		Completed:   t.Completed,
		CompletedAt: t.CompletedAt,
		Creator:     t.CreatorID,
	}
}

// Create はTODOを作成する。
// POST /todos
func (h *TodoHandler) Create(w http.ResponseWriter, r *http.Request) {
	u := currentUser(w, r)
	if u == nil {
		return
	}

	var req createTodoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	todo, err := h.service.Create(r.Context(), u.ID, req.Text)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTodoResponse(todo))
}

// List は認証済みユーザーのTODO一覧を返す。
// GET /todos
func (h *TodoHandler) List(w http.ResponseWriter, r *http.Request) {
	u := currentUser(w, r)
	if u == nil {
		return
	}

	todos, err := h.service.ListFor(r.Context(), u.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := todoListResponse{Todos: make([]todoResponse, 0, len(todos))}
	for _, t := range todos {
		resp.Todos = append(resp.Todos, toTodoResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はTODOを1件返す。
// GET /todos/{id}
func (h *TodoHandler) Get(w http.ResponseWriter, r *http.Request) {
	u := currentUser(w, r)
	if u == nil {
		return
	}

	todo, err := h.service.GetFor(r.Context(), u.ID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, todoEnvelope{Todo: toTodoResponse(todo)})
}

// Delete はTODOを削除し、削除したTODOを返す。
// DELETE /todos/{id}
func (h *TodoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	u := currentUser(w, r)
	if u == nil {
		return
	}

	todo, err := h.service.DeleteFor(r.Context(), u.ID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, todoEnvelope{Todo: toTodoResponse(todo)})
}

// Update はTODOを部分更新する。
// PATCH /todos/{id}
func (h *TodoHandler) Update(w http.ResponseWriter, r *http.Request) {
	u := currentUser(w, r)
	if u == nil {
		return
	}

	var req patchTodoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	todo, err := h.service.UpdateFor(r.Context(), u.ID, chi.URLParam(r, "id"), model.TodoPatch{
		Text:      req.Text,
		Completed: req.Completed,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, todoEnvelope{Todo: toTodoResponse(todo)})
}
