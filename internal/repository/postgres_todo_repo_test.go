package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hitoshi/todoman/internal/model"
)

const testTodoID = "7a1c9e2f-5b3d-4c8a-9e6f-0d1b2c3a4e5f"

func newTodoRepoWithMock(t *testing.T) (*PostgresTodoRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresTodoRepo(db), mock
}

func todoRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "creator_id", "text", "completed", "completed_at", "created_at", "updated_at"})
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// PostgresTodoRepoはTodoRepositoryインターフェースを満たすことを検証
func TestPostgresTodoRepo_ImplementsInterface(t *testing.T) {
	var _ TodoRepository = (*PostgresTodoRepo)(nil)
}

func TestPostgresTodoRepo_Create_Success(t *testing.T) {
	repo, mock := newTodoRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+todos`).
		WithArgs(testTodoID, testUserID, "buy milk", false, nil, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &model.Todo{
		ID:        testTodoID,
		CreatorID: testUserID,
		Text:      "buy milk",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresTodoRepo_ListByCreator_ReturnsRows(t *testing.T) {
	repo, mock := newTodoRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+todos\s+WHERE\s+creator_id\s*=\s*\$1\s+ORDER\s+BY\s+created_at`).
		WithArgs(testUserID).
		WillReturnRows(todoRows().
			AddRow(testTodoID, testUserID, "first", false, nil, now, now).
			AddRow("8b2d0f3a-6c4e-4d9b-8f7a-1e2c3d4b5f6a", testUserID, "second", true, now, now, now))

	todos, err := repo.ListByCreator(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("ListByCreator error: %v", err)
	}
	if len(todos) != 2 {
		t.Fatalf("expected 2 todos, got %d", len(todos))
	}
	if todos[0].CompletedAt != nil {
		t.Errorf("expected nil completed_at for first todo, got %v", todos[0].CompletedAt)
	}
	if todos[1].CompletedAt == nil || !todos[1].Completed {
		t.Errorf("expected completed second todo, got %+v", todos[1])
	}
}

// 不正な作成者IDでは空のスライスを返すこと
func TestPostgresTodoRepo_ListByCreator_MalformedID(t *testing.T) {
	repo, _ := newTodoRepoWithMock(t)

	todos, err := repo.ListByCreator(context.Background(), "bogus")
	if err != nil {
		t.Fatalf("ListByCreator error: %v", err)
	}
	if todos == nil || len(todos) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", todos)
	}
}

func TestPostgresTodoRepo_FindByIDAndCreator_NotFound(t *testing.T) {
	repo, mock := newTodoRepoWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+todos\s+WHERE\s+id\s*=\s*\$1\s+AND\s+creator_id\s*=\s*\$2`).
		WithArgs(testTodoID, testUserID).
		WillReturnError(sql.ErrNoRows)

	todo, err := repo.FindByIDAndCreator(context.Background(), testTodoID, testUserID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if todo != nil {
		t.Errorf("expected nil todo, got %+v", todo)
	}
}

func TestPostgresTodoRepo_DeleteByIDAndCreator_ReturnsDeleted(t *testing.T) {
	repo, mock := newTodoRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)^DELETE\s+FROM\s+todos\s+WHERE\s+id\s*=\s*\$1\s+AND\s+creator_id\s*=\s*\$2\s+RETURNING`).
		WithArgs(testTodoID, testUserID).
		WillReturnRows(todoRows().AddRow(testTodoID, testUserID, "bye", false, nil, now, now))

	todo, err := repo.DeleteByIDAndCreator(context.Background(), testTodoID, testUserID)
	if err != nil {
		t.Fatalf("DeleteByIDAndCreator error: %v", err)
	}
	if todo == nil || todo.Text != "bye" {
		t.Fatalf("unexpected todo: %+v", todo)
	}
}

// 部分更新では未指定フィールドをNULLとして渡し、COALESCEで既存値を保持すること
func TestPostgresTodoRepo_UpdateByIDAndCreator_PartialPatch(t *testing.T) {
	repo, mock := newTodoRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)^UPDATE\s+todos\s+SET.*COALESCE\(\$3::text.*RETURNING`).
		WithArgs(testTodoID, testUserID, "renamed", nil, now).
		WillReturnRows(todoRows().AddRow(testTodoID, testUserID, "renamed", false, nil, now, now))

	todo, err := repo.UpdateByIDAndCreator(context.Background(), testTodoID, testUserID,
		model.TodoPatch{Text: strPtr("renamed")}, now)
	if err != nil {
		t.Fatalf("UpdateByIDAndCreator error: %v", err)
	}
	if todo == nil || todo.Text != "renamed" {
		t.Fatalf("unexpected todo: %+v", todo)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresTodoRepo_UpdateByIDAndCreator_Complete(t *testing.T) {
	repo, mock := newTodoRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)^UPDATE\s+todos\s+SET`).
		WithArgs(testTodoID, testUserID, nil, true, now).
		WillReturnRows(todoRows().AddRow(testTodoID, testUserID, "t", true, now, now, now))

	todo, err := repo.UpdateByIDAndCreator(context.Background(), testTodoID, testUserID,
		model.TodoPatch{Completed: boolPtr(true)}, now)
	if err != nil {
		t.Fatalf("UpdateByIDAndCreator error: %v", err)
	}
	if todo.CompletedAt == nil || !todo.CompletedAt.Equal(now) {
		t.Errorf("expected completed_at %v, got %v", now, todo.CompletedAt)
	}
}

func TestPostgresTodoRepo_UpdateByIDAndCreator_OtherOwner(t *testing.T) {
	repo, mock := newTodoRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)^UPDATE\s+todos\s+SET`).
		WillReturnError(sql.ErrNoRows)

	todo, err := repo.UpdateByIDAndCreator(context.Background(), testTodoID, testUserID,
		model.TodoPatch{Completed: boolPtr(false)}, now)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if todo != nil {
		t.Errorf("expected nil todo, got %+v", todo)
	}
}

func TestPostgresTodoRepo_DeleteByCreator(t *testing.T) {
	repo, mock := newTodoRepoWithMock(t)

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+todos\s+WHERE\s+creator_id\s*=\s*\$1`).
		WithArgs(testUserID).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := repo.DeleteByCreator(context.Background(), testUserID); err != nil {
		t.Fatalf("DeleteByCreator error: %v", err)
	}
}
