package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/lib/pq"
)

// pqUniqueViolation はPostgreSQLの一意制約違反エラーコード。
const pqUniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// トークンリストはusers.tokensのJSONB配列として1行に埋め込む。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// Create はユーザーを作成する。メールアドレスが既に存在する場合はErrDuplicateEmailを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	tokens, err := marshalTokens(user.Tokens)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password, tokens, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.Password, tokens, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !isUUID(id) {
		return nil, nil
	}
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, email, password, tokens, created_at, updated_at FROM users WHERE id = $1`,
		id,
	))
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, email, password, tokens, created_at, updated_at FROM users WHERE email = $1`,
		email,
	))
}

// FindByIDAndToken はIDが一致し、アクセス種別とトークンの組を同一要素として保持するユーザーを取得する。
func (r *PostgresUserRepo) FindByIDAndToken(ctx context.Context, id, access, token string) (*model.User, error) {
	if !isUUID(id) {
		return nil, nil
	}
	needle, err := marshalTokens([]model.Token{{Access: access, Token: token}})
	if err != nil {
		return nil, err
	}
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, email, password, tokens, created_at, updated_at
		 FROM users
		 WHERE id = $1 AND tokens @> $2::jsonb`,
		id, needle,
	))
}

// AddToken はトークンリストの末尾にエントリを追加する。
// 読み出しを挟まない1回のUPDATEで追加するため、同時ログインでもリストは壊れない。
func (r *PostgresUserRepo) AddToken(ctx context.Context, userID string, token model.Token) error {
	if !isUUID(userID) {
		return ErrNotFound
	}
	entry, err := marshalTokens([]model.Token{token})
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET tokens = tokens || $2::jsonb, updated_at = $3 WHERE id = $1`,
		userID, entry, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to add token: %w", err)
	}
	return requireAffected(result)
}

// RemoveToken はトークン文字列が一致するエントリを値で除去する。
// 該当エントリが無い場合は更新対象が0行となり、エラーにはしない。
func (r *PostgresUserRepo) RemoveToken(ctx context.Context, userID, token string) error {
	if !isUUID(userID) {
		return nil
	}
	needle, err := json.Marshal([]map[string]string{{"token": token}})
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE users
		 SET tokens = COALESCE(
		       (SELECT jsonb_agg(t.elem ORDER BY t.ord)
		        FROM jsonb_array_elements(users.tokens) WITH ORDINALITY AS t(elem, ord)
		        WHERE t.elem->>'token' <> $2),
		       '[]'::jsonb),
		     updated_at = $4
		 WHERE id = $1 AND tokens @> $3::jsonb`,
		userID, token, string(needle), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	return nil
}

// UpdatePassword はパスワードハッシュを更新し、トークンリストを空にする。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, userID, digest string) error {
	if !isUUID(userID) {
		return ErrNotFound
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password = $2, tokens = '[]'::jsonb, updated_at = $3 WHERE id = $1`,
		userID, digest, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireAffected(result)
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するtodosはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	if !isUUID(id) {
		return ErrNotFound
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireAffected(result)
}

// scanUser は1行のユーザーをスキャンする。行が無い場合はnilを返す。
func (r *PostgresUserRepo) scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var tokens []byte
	err := row.Scan(&user.ID, &user.Email, &user.Password, &tokens, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	user.Tokens = []model.Token{}
	if len(tokens) > 0 {
		if err := json.Unmarshal(tokens, &user.Tokens); err != nil {
			return nil, fmt.Errorf("failed to decode tokens: %w", err)
		}
	}
	return user, nil
}

// marshalTokens はトークンリストをJSONB用の文字列にエンコードする。nilは空配列として扱う。
// lib/pqは[]byteをbyteaとして送るため、文字列で渡す。
func marshalTokens(tokens []model.Token) (string, error) {
	if tokens == nil {
		tokens = []model.Token{}
	}
	b, err := json.Marshal(tokens)
	if err != nil {
		return "", fmt.Errorf("failed to encode tokens: %w", err)
	}
	return string(b), nil
}

// requireAffected は更新行数が0の場合にErrNotFoundを返す。
func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
