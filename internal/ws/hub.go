// Package ws はWebSocketトランスポート層を実装する。
// セッション単位のルーム管理とレジストリからの配信を担い、
// レジストリのSenderインターフェースを満たす。
package ws

import (
	"log/slog"
	"sync"

	"github.com/siteforge/collab/protocol"
)

// Hub はセッションIDごとの接続クライアントを保持する。
// レジストリからのBroadcast/Sendをソケット送信に変換する。
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[string]*client // sessionID -> userID -> client
}

// NewHub は新しいHubを生成する。
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		rooms:  make(map[string]map[string]*client),
	}
}

// register はクライアントをルームに登録する。
// 同一ユーザーの既存接続がある場合は閉じて置き換える（再接続時）。
// 同一接続での再参加は何も閉じない。
func (h *Hub) register(sessionID, userID string, c *client) {
	h.mu.Lock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[string]*client)
		h.rooms[sessionID] = room
	}
	old := room[userID]
	room[userID] = c
	h.mu.Unlock()

	if old != nil && old != c {
		old.close()
	}
}

// unregister はクライアントをルームから外し、外したかどうかを返す。
// 別の接続に置き換えられていた場合は何もせずfalseを返す。
// 呼び出し側はこの戻り値で、退避済み接続の残留クリーンアップと
// 参加者本体の退出を区別する。
func (h *Hub) unregister(sessionID, userID string, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sessionID]
	if !ok {
		return false
	}
	if room[userID] != c {
		return false
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
	return true
}

// Kick は指定参加者の接続をルームから外して閉じる。
// 強制退出された参加者が以後のルーム配信を受け取らないようにする。
func (h *Hub) Kick(sessionID, userID string) {
	h.mu.Lock()
	room := h.rooms[sessionID]
	c := room[userID]
	if c != nil {
		delete(room, userID)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	h.mu.Unlock()

	if c != nil {
		c.close()
	}
}

// Send は指定参加者のソケットにメッセージを送る。
// 接続がない場合は黙って破棄する。
func (h *Hub) Send(sessionID, userID string, env protocol.Envelope) {
	h.mu.RLock()
	c := h.rooms[sessionID][userID]
	h.mu.RUnlock()

	if c != nil {
		c.enqueue(env)
	}
}

// Broadcast はセッション内の全ソケットにメッセージを送る。
// excludeUserIDが空でない場合、そのユーザーを除外する。
func (h *Hub) Broadcast(sessionID, excludeUserID string, env protocol.Envelope) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[sessionID]))
	for userID, c := range h.rooms[sessionID] {
		if excludeUserID != "" && userID == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(env)
	}
}

// RoomSize はセッション内の接続数を返す。
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}
