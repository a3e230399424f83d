// Package user はユーザー管理と認証トークンのライフサイクルを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/auth"
	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
)

const (
	minEmailLength = 2
	// users.emailのVARCHAR(320)に合わせる。
	maxEmailLength    = 320
	minPasswordLength = 6
	// bcryptは72バイトを超える入力を受け付けない。
	maxPasswordBytes = 72
)

// TodoDeleter は退会時に所有TODOを一括削除するインターフェース。
type TodoDeleter interface {
	DeleteByCreator(ctx context.Context, creatorID string) error
}

// EventRecorder は認証イベントの記録インターフェース。
type EventRecorder interface {
	RecordAuthEvent(event string)
}

// Service はユーザー管理のサービス層。
// 登録・ログイン・ログアウトとトークンリストの管理を担う。
type Service struct {
	users    repository.UserRepository
	todos    TodoDeleter
	hasher   auth.PasswordHasher
	tokens   auth.TokenIssuer
	recorder EventRecorder
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// recorderがnilの場合はイベントを記録しない。
func NewService(
	users repository.UserRepository,
	todos TodoDeleter,
	hasher auth.PasswordHasher,
	tokens auth.TokenIssuer,
	recorder EventRecorder,
) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		users:    users,
		todos:    todos,
		hasher:   hasher,
		tokens:   tokens,
		recorder: recorder,
		now:      time.Now,
	}
}

// Create はユーザーを作成する。
// メールアドレスは前後の空白を除去してから検証し、パスワードはハッシュ化してから永続化する。
func (s *Service) Create(ctx context.Context, email, password string) (*model.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	now := s.now().UTC()
	u := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Password:  digest,
		Tokens:    []model.Token{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	return u, nil
}

// FindByCredentials はメールアドレスとパスワードでユーザーを特定する。
// 未登録とパスワード不一致は区別せず、同じInvalidCredentialsエラーを返す。
func (s *Service) FindByCredentials(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Verify(password, u.Password) {
		return nil, model.NewInvalidCredentialsError()
	}
	return u, nil
}

// FindByToken はセッショントークンの持ち主を返す。
// 署名検証に失敗したトークンではストアを参照しない。
// 署名が正しくても、持ち主のトークンリストに同じアクセス種別で残っていなければ拒否する。
func (s *Service) FindByToken(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		s.recorder.RecordAuthEvent(metrics.EventTokenRejected)
		return nil, model.NewUnauthorizedError()
	}

	u, err := s.users.FindByIDAndToken(ctx, claims.UserID, claims.Access, token)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil || !u.HasToken(claims.Access, token) {
		s.recorder.RecordAuthEvent(metrics.EventTokenRejected)
		return nil, model.NewUnauthorizedError()
	}
	return u, nil
}

// IssueToken は新しいトークンを発行し、ユーザーのトークンリストに追加する。
// 追加は単一ドキュメントの更新で行い、userのトークンリストも同じ内容に揃える。
func (s *Service) IssueToken(ctx context.Context, u *model.User) (string, error) {
	token, err := s.tokens.Issue(u.ID, model.TokenAccessAuth)
	if err != nil {
		return "", fmt.Errorf("トークンの発行に失敗しました: %w", err)
	}

	entry := model.Token{Access: model.TokenAccessAuth, Token: token}
	if err := s.users.AddToken(ctx, u.ID, entry); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", model.NewUserNotFoundError()
		}
		return "", fmt.Errorf("トークンの保存に失敗しました: %w", err)
	}

	u.Tokens = append(u.Tokens, entry)
	return token, nil
}

// RemoveToken はトークンをユーザーのトークンリストから除去する。
// 既に除去済みのトークンでも成功する。
func (s *Service) RemoveToken(ctx context.Context, u *model.User, token string) error {
	if err := s.users.RemoveToken(ctx, u.ID, token); err != nil {
		return fmt.Errorf("トークンの削除に失敗しました: %w", err)
	}
	u.Tokens = u.WithoutToken(token)

	s.recorder.RecordAuthEvent(metrics.EventLogout)
	slog.Info("user logged out",
		slog.String("user_id", u.ID),
	)
	return nil
}

// Register はユーザーを作成し、最初のトークンを発行する。
func (s *Service) Register(ctx context.Context, email, password string) (*model.User, string, error) {
	u, err := s.Create(ctx, email, password)
	if err != nil {
		return nil, "", err
	}

	token, err := s.IssueToken(ctx, u)
	if err != nil {
		return nil, "", err
	}

	s.recorder.RecordAuthEvent(metrics.EventRegister)
	slog.Info("user registered",
		slog.String("user_id", u.ID),
	)
	return u, token, nil
}

// Login は認証情報を確認し、新しいトークンを発行する。
// 既存のトークンはそのまま残るため、複数端末から同時にログインできる。
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	u, err := s.FindByCredentials(ctx, email, password)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInvalidCredentials {
			s.recorder.RecordAuthEvent(metrics.EventLoginFailed)
		}
		return nil, "", err
	}

	token, err := s.IssueToken(ctx, u)
	if err != nil {
		return nil, "", err
	}

	s.recorder.RecordAuthEvent(metrics.EventLogin)
	slog.Info("user logged in",
		slog.String("user_id", u.ID),
		slog.Int("active_tokens", len(u.Tokens)),
	)
	return u, token, nil
}

// ChangePassword は現在のパスワードを確認してから新しいパスワードに変更する。
// 変更と同時にトークンリストを空にし、すべてのセッションを失効させる。
func (s *Service) ChangePassword(ctx context.Context, u *model.User, current, next string) error {
	if !s.hasher.Verify(current, u.Password) {
		return model.NewInvalidCredentialsError()
	}
	if err := validatePassword(next); err != nil {
		return err
	}

	digest, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, digest); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}

	u.Password = digest
	u.Tokens = []model.Token{}

	slog.Info("user password changed",
		slog.String("user_id", u.ID),
	)
	return nil
}

// Delete はユーザーの退会処理を実行する。
// 削除順序: todos → user
func (s *Service) Delete(ctx context.Context, u *model.User) error {
	slog.Info("退会処理を開始します",
		slog.String("user_id", u.ID),
	)

	if s.todos != nil {
		if err := s.todos.DeleteByCreator(ctx, u.ID); err != nil {
			return fmt.Errorf("TODOの削除に失敗しました: %w", err)
		}
	}

	if err := s.users.DeleteByID(ctx, u.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", u.ID),
	)
	return nil
}

// normalizeEmail は前後の空白を除去し、表示名を含まない単独のアドレスであることを検証する。
func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if utf8.RuneCountInString(email) < minEmailLength {
		return "", model.NewValidationError("email", fmt.Sprintf("%d文字以上で入力してください", minEmailLength))
	}
	if utf8.RuneCountInString(email) > maxEmailLength {
		return "", model.NewValidationError("email", fmt.Sprintf("%d文字以下で入力してください", maxEmailLength))
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewValidationError("email", "メールアドレスの形式ではありません")
	}
	return email, nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return model.NewValidationError("password", fmt.Sprintf("%d文字以上で入力してください", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return model.NewValidationError("password", fmt.Sprintf("%dバイト以下で入力してください", maxPasswordBytes))
	}
	return nil
}
