package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/model"
)

// todoColumns はtodosテーブルのSELECT/RETURNING共通カラム。
const todoColumns = `id, creator_id, text, completed, completed_at, created_at, updated_at`

// PostgresTodoRepo はPostgreSQLを使用したTODOリポジトリ。
type PostgresTodoRepo struct {
	db *sql.DB
}

// NewPostgresTodoRepo はPostgresTodoRepoを生成する。
func NewPostgresTodoRepo(db *sql.DB) *PostgresTodoRepo {
	return &PostgresTodoRepo{db: db}
}

// Create はTODOを作成する。
func (r *PostgresTodoRepo) Create(ctx context.Context, todo *model.Todo) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO todos (id, creator_id, text, completed, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		todo.ID, todo.CreatorID, todo.Text, todo.Completed, nullTime(todo.CompletedAt), todo.CreatedAt, todo.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert todo: %w", err)
	}
	return nil
}

// ListByCreator は作成者のTODO一覧を作成日時順で返す。
func (r *PostgresTodoRepo) ListByCreator(ctx context.Context, creatorID string) ([]*model.Todo, error) {
	todos := []*model.Todo{}
	if !isUUID(creatorID) {
		return todos, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE creator_id = $1 ORDER BY created_at, id`,
		creatorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todos = append(todos, todo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate todos: %w", err)
	}
	return todos, nil
}

// FindByIDAndCreator はIDと作成者IDでTODOを取得する。見つからない場合はnilを返す。
func (r *PostgresTodoRepo) FindByIDAndCreator(ctx context.Context, id, creatorID string) (*model.Todo, error) {
	if !isUUID(id) || !isUUID(creatorID) {
		return nil, nil
	}
	return scanTodoRow(r.db.QueryRowContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE id = $1 AND creator_id = $2`,
		id, creatorID,
	))
}

// DeleteByIDAndCreator はIDと作成者IDでTODOを削除し、削除したTODOを返す。
func (r *PostgresTodoRepo) DeleteByIDAndCreator(ctx context.Context, id, creatorID string) (*model.Todo, error) {
	if !isUUID(id) || !isUUID(creatorID) {
		return nil, nil
	}
	return scanTodoRow(r.db.QueryRowContext(ctx,
		`DELETE FROM todos WHERE id = $1 AND creator_id = $2 RETURNING `+todoColumns,
		id, creatorID,
	))
}

// UpdateByIDAndCreator は部分更新を1回のUPDATE ... RETURNINGで適用する。
// completed_atは更新前の行の値を参照して決めるため、読み出しとの間に競合は生じない。
func (r *PostgresTodoRepo) UpdateByIDAndCreator(ctx context.Context, id, creatorID string, patch model.TodoPatch, now time.Time) (*model.Todo, error) {
	if !isUUID(id) || !isUUID(creatorID) {
		return nil, nil
	}

	var text sql.NullString
	if patch.Text != nil {
		text = sql.NullString{String: *patch.Text, Valid: true}
	}
	var completed sql.NullBool
	if patch.Completed != nil {
		completed = sql.NullBool{Bool: *patch.Completed, Valid: true}
	}

	return scanTodoRow(r.db.QueryRowContext(ctx,
		`UPDATE todos SET
		   text = COALESCE($3::text, text),
		   completed = COALESCE($4::boolean, completed),
		   completed_at = CASE
		     WHEN $4::boolean IS NULL THEN completed_at
		     WHEN $4::boolean THEN COALESCE(completed_at, $5::timestamptz)
		     ELSE NULL
		   END,
		   updated_at = $5::timestamptz
		 WHERE id = $1 AND creator_id = $2
		 RETURNING `+todoColumns,
		id, creatorID, text, completed, now,
	))
}

// DeleteByCreator は作成者の全TODOを削除する。
func (r *PostgresTodoRepo) DeleteByCreator(ctx context.Context, creatorID string) error {
	if !isUUID(creatorID) {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM todos WHERE creator_id = $1`,
		creatorID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete todos: %w", err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTodo は1行のTODOをスキャンする。
func scanTodo(s rowScanner) (*model.Todo, error) {
	todo := &model.Todo{}
	var completedAt sql.NullTime
	err := s.Scan(
		&todo.ID, &todo.CreatorID, &todo.Text,
		&todo.Completed, &completedAt,
		&todo.CreatedAt, &todo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		todo.CompletedAt = &t
	}
	return todo, nil
}

// scanTodoRow は単一行のTODOをスキャンする。行が無い場合はnilを返す。
func scanTodoRow(row *sql.Row) (*model.Todo, error) {
	todo, err := scanTodo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan todo: %w", err)
	}
	return todo, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// isUUID はハイフン区切りの正規形式のUUIDかどうかを返す。
// 不正なIDはクエリを発行せず未検出として扱う。
func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// compile-time interface check
var _ TodoRepository = (*PostgresTodoRepo)(nil)
