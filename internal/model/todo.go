// Package model はドメインモデルを定義する。
package model

import "time"

// Todo はユーザーが所有するTODO項目を表す。
// CompletedAtはCompletedがtrueの間だけ値を持つ。
type Todo struct {
	ID          string
	Text        string
	Completed   bool
	CompletedAt *time.Time
	CreatorID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TodoPatch はTODO更新リクエストの部分更新内容。
// nilフィールドは変更しない。
type TodoPatch struct {
	Text      *string
	Completed *bool
}

