// Package model はドメインモデルを定義する。
package model

import "time"

// TokenAccessAuth は通常のログインセッションに付与されるアクセス種別。
const TokenAccessAuth = "auth"

// Token はユーザードキュメントに埋め込まれるセッショントークン。
// 失効はリストからの削除で表現し、トークン文字列そのものの有効期限には依存しない。
type Token struct {
	Access string `json:"access" bson:"access"`
	Token  string `json:"token" bson:"token"`
}

// User はサービス利用ユーザーを表す。
// Passwordは永続化時点で必ずbcryptハッシュであり、平文を保持しない。
type User struct {
	ID        string
	Email     string
	Password  string  `json:"-"`
	Tokens    []Token `json:"-"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasToken は指定されたアクセス種別とトークン文字列の組を保持しているかを返す。
func (u *User) HasToken(access, token string) bool {
	for _, t := range u.Tokens {
		if t.Access == access && t.Token == token {
			return true
		}
	}
	return false
}

// WithoutToken はトークン文字列が一致するエントリを除いたリストを返す。
// 位置ではなく値で除外するため、並行して追加されたエントリを巻き込まない。
func (u *User) WithoutToken(token string) []Token {
	kept := make([]Token, 0, len(u.Tokens))
	for _, t := range u.Tokens {
		if t.Token != token {
			kept = append(kept, t)
		}
	}
	return kept
}
