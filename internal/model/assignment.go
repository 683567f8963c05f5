package model

import (
	"fmt"
	"time"
)

// DueDateLayout は課題期限のワイヤーフォーマット。
const DueDateLayout = "2006-01-02"

// Assignment は生徒1人に割り当てられた課題を表す。
// OwnerIDは作成後に変更されない。
type Assignment struct {
	ID        string
	OwnerID   string
	Name      string
	DueDate   time.Time
	Position  int64 // 作成順を表す単調増加のシーケンス
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AssignmentPatch は課題の部分更新内容。nilのフィールドは変更しない。
type AssignmentPatch struct {
	Name    *string
	DueDate *time.Time
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (p AssignmentPatch) IsEmpty() bool {
	return p.Name == nil && p.DueDate == nil
}

// ParseDueDate は "YYYY-MM-DD" 形式の文字列をUTCの日付に変換する。
func ParseDueDate(s string) (time.Time, error) {
	t, err := time.Parse(DueDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// FormatDueDate は期限を "YYYY-MM-DD" 形式で返す。
func FormatDueDate(t time.Time) string {
	return t.UTC().Format(DueDateLayout)
}
