package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken は署名・構造の検証に失敗したトークンを表す。
var ErrInvalidToken = errors.New("invalid token")

// TokenClaims はセッショントークンに埋め込むクレーム。
// 有効期限は持たず、失効はユーザーのトークンリストからの削除で行う。
type TokenClaims struct {
	UserID string `json:"_id"`
	Access string `json:"access"`
	jwt.RegisteredClaims
}

// TokenIssuer はセッショントークンの発行と検証のインターフェース。
type TokenIssuer interface {
	// Issue はユーザーIDとアクセス種別を埋め込んだ署名付きトークンを発行する。
	Issue(userID, access string) (string, error)
	// Verify は署名と構造を検証し、埋め込まれたクレームを返す。
	// ストア上の存在確認は行わない。
	Verify(token string) (*TokenClaims, error)
}

// JWTIssuer はHS256署名のJWTによるTokenIssuerの実装。
type JWTIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewJWTIssuer はJWTIssuerを生成する。
func NewJWTIssuer(secret string) *JWTIssuer {
	return &JWTIssuer{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Issue はユーザーIDとアクセス種別を埋め込んだトークンを発行する。
// jtiにランダムなIDを持たせ、同一ユーザーの複数ログインを個別に失効できるようにする。
func (i *JWTIssuer) Issue(userID, access string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user ID is required")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		UserID: userID,
		Access: access,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.New().String(),
			IssuedAt: jwt.NewNumericDate(i.now()),
		},
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンの署名・アルゴリズム・必須クレームを検証する。
// いずれかに失敗した場合はErrInvalidTokenを返す。
func (i *JWTIssuer) Verify(tokenString string) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" || claims.Access == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// compile-time interface check
var _ TokenIssuer = (*JWTIssuer)(nil)
