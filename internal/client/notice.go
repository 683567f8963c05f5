package client

import (
	"errors"
	"net/http"

	"github.com/hitoshi/assignman/internal/model"
)

// NoticeKind は利用者への通知の種類。
type NoticeKind string

const (
	// NoticeInline は入力欄に添えて表示する通知。
	NoticeInline NoticeKind = "inline"
	// NoticeGeneric は画面全体に表示する汎用の失敗通知。
	NoticeGeneric NoticeKind = "generic"
)

// genericFailureMessage は汎用通知の文言。
const genericFailureMessage = "処理に失敗しました。時間をおいて再度お試しください。"

// Notice はエラーを利用者向けに変換した通知。
type Notice struct {
	Kind    NoticeKind
	Field   string
	Message string
}

// NoticeFor はエラーを通知に変換する。
// 入力エラーと認証エラーは対象フィールドへのインライン通知、それ以外は汎用通知になる。
func NoticeFor(err error) Notice {
	if err == nil {
		return Notice{}
	}
	if errors.Is(err, ErrLoginInProgress) {
		return Notice{Kind: NoticeInline, Field: "form", Message: "ログイン処理中です。"}
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return Notice{Kind: NoticeGeneric, Message: genericFailureMessage}
	}

	status := StatusCode(err)
	switch {
	case apiErr.Category == "validation" || status == http.StatusBadRequest:
		field := apiErr.Field
		if field == "" {
			field = "form"
		}
		return Notice{Kind: NoticeInline, Field: field, Message: apiErr.Message}
	case apiErr.Code == model.ErrCodeInvalidCredentials:
		return Notice{Kind: NoticeInline, Field: "password", Message: apiErr.Message}
	case apiErr.Code == model.ErrCodeUnauthenticated || status == http.StatusUnauthorized:
		return Notice{Kind: NoticeInline, Field: "token", Message: "ログインし直してください。"}
	default:
		return Notice{Kind: NoticeGeneric, Message: genericFailureMessage}
	}
}
