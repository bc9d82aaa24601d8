package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/siteforge/collab/protocol"
)

const (
	// writeWait はソケット書き込みのタイムアウト。
	writeWait = 10 * time.Second

	// pongWait はクライアントからのpong応答の待機時間。
	pongWait = 60 * time.Second

	// pingPeriod はping送信間隔。pongWaitより短くすること。
	pingPeriod = (pongWait * 9) / 10

	// sendBufferSize はクライアント単位の送信キュー長。
	// 溢れた場合メッセージは破棄される（プレゼンスデータは陳腐化耐性がある）。
	sendBufferSize = 256

	// maxMessageSize は受信メッセージの最大サイズ。
	maxMessageSize = 1 << 20
)

// client は1本のWebSocket接続を表す。
// 書き込みはwritePumpゴルーチンに集約され、sendチャネル経由でのみ行う。
type client struct {
	conn   *websocket.Conn
	send   chan protocol.Envelope
	logger *slog.Logger

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, logger *slog.Logger) *client {
	return &client{
		conn:   conn,
		send:   make(chan protocol.Envelope, sendBufferSize),
		logger: logger,
	}
}

// enqueue はメッセージを送信キューに積む。キューが満杯の場合は破棄する。
func (c *client) enqueue(env protocol.Envelope) {
	select {
	case c.send <- env:
	default:
		c.logger.Warn("send queue full, dropping message",
			slog.String("message_type", string(env.Type)),
		)
	}
}

// close は送信キューを閉じ、writePump経由で接続を終了させる。
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// writePump は送信キューのメッセージをソケットに書き込む。
// 定期的にpingを送り、キューが閉じられたら接続を閉じる。
// 接続ごとに1ゴルーチンで実行する。
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Debug("failed to write message",
					slog.String("error", err.Error()),
				)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
