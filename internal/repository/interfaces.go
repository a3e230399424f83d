// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/todoman/internal/model"
)

// ErrDuplicateEmail は一意制約に違反するメールアドレスでユーザーを作成しようとした場合に返る。
var ErrDuplicateEmail = errors.New("duplicate email")

// ErrNotFound は更新対象のドキュメントが存在しない場合に返る。
// 検索系メソッドは見つからない場合にnilを返し、このエラーは使わない。
var ErrNotFound = errors.New("document not found")

// UserRepository はユーザーデータの永続化インターフェース。
// トークンリストはユーザードキュメントに埋め込まれ、追加・削除は単一ドキュメントの原子的更新で行う。
type UserRepository interface {
	// Create はユーザーを作成する。メールアドレスが既に存在する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByIDAndToken はIDが一致し、かつ指定のアクセス種別とトークンの組を
	// トークンリストに保持しているユーザーを取得する。見つからない場合はnilを返す。
	FindByIDAndToken(ctx context.Context, id, access, token string) (*model.User, error)

	// AddToken はトークンリストの末尾にエントリを追加する。
	// ユーザーが存在しない場合はErrNotFoundを返す。
	AddToken(ctx context.Context, userID string, token model.Token) error

	// RemoveToken はトークン文字列が一致するエントリをトークンリストから除去する。
	// 該当エントリが無い場合も成功とする。
	RemoveToken(ctx context.Context, userID, token string) error

	// UpdatePassword はパスワードハッシュを更新し、トークンリストを空にする。
	// ユーザーが存在しない場合はErrNotFoundを返す。
	UpdatePassword(ctx context.Context, userID, digest string) error

	// DeleteByID は指定IDのユーザーを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// TodoRepository はTODOデータの永続化インターフェース。
// 作成以外のすべての操作は作成者IDで絞り込まれ、他ユーザーのTODOは存在しないものとして扱う。
type TodoRepository interface {
	// Create はTODOを作成する。
	Create(ctx context.Context, todo *model.Todo) error

	// ListByCreator は作成者のTODO一覧を返す。
	ListByCreator(ctx context.Context, creatorID string) ([]*model.Todo, error)

	// FindByIDAndCreator はIDと作成者IDでTODOを取得する。見つからない場合はnilを返す。
	FindByIDAndCreator(ctx context.Context, id, creatorID string) (*model.Todo, error)

	// DeleteByIDAndCreator はIDと作成者IDでTODOを削除し、削除したTODOを返す。
	// 見つからない場合はnilを返す。
	DeleteByIDAndCreator(ctx context.Context, id, creatorID string) (*model.Todo, error)

	// UpdateByIDAndCreator はIDと作成者IDで絞り込んだTODOに部分更新を1回の更新で適用し、
	// 更新後のTODOを返す。見つからない場合はnilを返す。
	// completed=trueで未完了からの遷移ならcompleted_atをnowに設定し、
	// completed=falseならcompleted_atを無条件にクリアする。
	UpdateByIDAndCreator(ctx context.Context, id, creatorID string, patch model.TodoPatch, now time.Time) (*model.Todo, error)

	// DeleteByCreator は作成者の全TODOを削除する。
	DeleteByCreator(ctx context.Context, creatorID string) error
}

// HealthChecker はストアへの疎通確認インターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}
