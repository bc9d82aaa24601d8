// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はチャットメッセージの本文をサニタイズし、
// 他の参加者にブロードキャストされる前にXSSリスクを除去する。
// bluemondayライブラリの厳格ポリシーにより、HTMLタグはすべて除去され
// テキストのみが中継される。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はチャット本文のサニタイズ機能のインターフェースを定義する。
// セッション内チャットの中継前に使用される。
type ContentSanitizerService interface {
	// Sanitize はチャット本文からHTMLタグをすべて除去したテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// チャット本文はリッチテキストを想定しないため、StrictPolicy（全タグ除去）を使用する。
// script/iframe/styleタグおよびon*イベント属性は当然に除去される。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はチャット本文からHTMLタグをすべて除去したテキストを返す。
func (s *contentSanitizer) Sanitize(raw string) string {
	return s.policy.Sanitize(raw)
}
