// Package client はコラボレーションサーバーに接続するGoクライアントを提供する。
// トランスポート層（接続状態機械と再接続）、統合フック（ローカル状態ミラーと
// 派生クエリ）、カーソルスロットリングで構成される。
package client

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/siteforge/collab/protocol"
)

// ConnState はトランスポートの接続状態を表す。
type ConnState int

const (
	// StateDisconnected は未接続状態。初期状態かつ明示切断後の状態。
	StateDisconnected ConnState = iota
	// StateConnecting は接続試行中。
	StateConnecting
	// StateJoining は接続確立済みでセッション参加の完了待ち。
	StateJoining
	// StateActive はセッション参加済みで通常運用中。
	StateActive
	// StateReconnecting は予期しない切断後の再接続待機中。
	StateReconnecting
	// StateFailed は再接続試行回数を使い切った終端状態。
	StateFailed
)

// String はConnStateの文字列表現を返す。
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// validTransitions は接続状態機械の遷移表。
// ここに載っていない遷移は不正としてエラーになる。
var validTransitions = map[ConnState][]ConnState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateJoining, StateReconnecting, StateDisconnected},
	StateJoining:      {StateActive, StateReconnecting, StateDisconnected},
	StateActive:       {StateReconnecting, StateDisconnected},
	StateReconnecting: {StateConnecting, StateFailed, StateDisconnected},
	StateFailed:       {StateConnecting, StateDisconnected},
}

// canTransition は状態fromから状態toへの遷移が遷移表で許可されているかを返す。
func canTransition(from, to ConnState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Conn はWebSocket接続の最小インターフェース。テストでフェイクに差し替える。
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer はWebSocket接続の確立を抽象化するインターフェース。
type Dialer interface {
	Dial(urlStr string, header http.Header) (Conn, error)
}

// gorillaDialer はgorilla/websocketによるDialer実装。
type gorillaDialer struct {
	dialer *websocket.Dialer
}

func (g *gorillaDialer) Dial(urlStr string, header http.Header) (Conn, error) {
	conn, resp, err := g.dialer.Dial(urlStr, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}

const (
	defaultBackoffBase          = 500 * time.Millisecond
	defaultMaxReconnectAttempts = 5
)

// TransportConfig はTransportの設定。
type TransportConfig struct {
	// URL はコラボレーションサーバーのWebSocketエンドポイント（ws://host/ws）。
	URL string
	// UserID はX-User-IDヘッダーで送る認証済みユーザーID。
	UserID string
	// Dialer が未指定の場合はgorilla/websocketのデフォルトを使用する。
	Dialer Dialer
	// Logger が未指定の場合はslog.Default()を使用する。
	Logger *slog.Logger
	// BackoffBase は再接続バックオフの基準遅延。デフォルト500ms。
	BackoffBase time.Duration
	// MaxReconnectAttempts は再接続の最大試行回数。デフォルト5。
	MaxReconnectAttempts int
	// OnEnvelope は受信メッセージごとに呼ばれる。読み取りゴルーチンから呼ばれる。
	OnEnvelope func(env protocol.Envelope)
	// OnStateChange は状態遷移ごとに呼ばれる。省略可。
	OnStateChange func(from, to ConnState)
}

// Transport はサーバーへの1本の論理接続を管理する。
// 予期しない切断時は指数バックオフ（base * 2^attempt）で最大
// MaxReconnectAttempts回まで再接続し、使い切るとFailedに遷移する。
// 未接続中の送信はキューせず黙って破棄する。
type Transport struct {
	url     string
	userID  string
	dialer  Dialer
	logger  *slog.Logger
	backoff time.Duration
	maxTry  int

	onEnvelope    func(env protocol.Envelope)
	onStateChange func(from, to ConnState)

	mu        sync.Mutex
	state     ConnState
	conn      Conn
	sessionID string
	projectID string
	joined    bool
	joinMsg   protocol.JoinPayload
	closed    bool
}

// NewTransport は新しいTransportを生成する。
func NewTransport(cfg TransportConfig) *Transport {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &gorillaDialer{dialer: websocket.DefaultDialer}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.BackoffBase
	if backoff <= 0 {
		backoff = defaultBackoffBase
	}
	maxTry := cfg.MaxReconnectAttempts
	if maxTry <= 0 {
		maxTry = defaultMaxReconnectAttempts
	}
	return &Transport{
		url:           cfg.URL,
		userID:        cfg.UserID,
		dialer:        dialer,
		logger:        logger,
		backoff:       backoff,
		maxTry:        maxTry,
		onEnvelope:    cfg.OnEnvelope,
		onStateChange: cfg.OnStateChange,
		state:         StateDisconnected,
	}
}

// State は現在の接続状態を返す。
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SessionID は現在のセッションIDを返す。Initialize前は空文字列。
func (t *Transport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// transition は状態遷移を行う。t.muを保持して呼ぶこと。
// 遷移表にない遷移はエラーを返し、状態を変更しない。
func (t *Transport) transition(to ConnState) error {
	from := t.state
	if from == to {
		return nil
	}
	if !canTransition(from, to) {
		return fmt.Errorf("invalid connection state transition: %s -> %s", from, to)
	}
	t.state = to
	t.logger.Debug("connection state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	if t.onStateChange != nil {
		t.onStateChange(from, to)
	}
	return nil
}

// Initialize はトランスポートを開く。セッション参加はまだ行わない。
// sessionIDが空の場合は6文字のセッションコードを生成する。
// 接続に失敗した場合はバックグラウンドで再接続を開始し、エラーを返す。
func (t *Transport) Initialize(projectID, sessionID string) error {
	if sessionID == "" {
		code, err := protocol.NewSessionCode()
		if err != nil {
			return fmt.Errorf("failed to generate session code: %w", err)
		}
		sessionID = code
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	t.projectID = projectID
	t.sessionID = sessionID
	if err := t.transition(StateConnecting); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	if err := t.dial(); err != nil {
		t.mu.Lock()
		t.transition(StateReconnecting)
		t.mu.Unlock()
		go t.reconnectLoop()
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// dial は接続を1回試行する。成功時はJoiningに遷移し読み取りループを開始する。
func (t *Transport) dial() error {
	header := http.Header{}
	header.Set("X-User-ID", t.userID)

	conn, err := t.dialer.Dial(t.url, header)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return fmt.Errorf("transport is closed")
	}
	t.conn = conn
	if err := t.transition(StateJoining); err != nil {
		t.mu.Unlock()
		conn.Close()
		return err
	}
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

// Join はセッション参加メッセージを送る。
// 参加ペイロードは再接続時の自動再参加のために保持される。
func (t *Transport) Join(payload protocol.JoinPayload) error {
	t.mu.Lock()
	t.joined = true
	t.joinMsg = payload
	sessionID := t.sessionID
	conn := t.conn
	state := t.state
	t.mu.Unlock()

	if conn == nil || (state != StateJoining && state != StateActive) {
		return fmt.Errorf("cannot join in state %s", state)
	}

	env, err := protocol.NewEnvelope(protocol.MsgJoinSession, sessionID, t.userID, payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(env)
}

// Send はメッセージを送信する。未接続中（JoiningでもActiveでもない）は
// キューせず黙って破棄する。プレゼンスデータは陳腐化耐性があり、
// 変更はバッキングストアに別途永続化されるため失われない。
func (t *Transport) Send(msgType protocol.MessageType, payload any) error {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	sessionID := t.sessionID
	t.mu.Unlock()

	if conn == nil || (state != StateActive && state != StateJoining) {
		return nil
	}

	env, err := protocol.NewEnvelope(msgType, sessionID, t.userID, payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(env)
}

// Leave はセッション離脱メッセージを送り、接続を明示的に閉じる。
func (t *Transport) Leave() error {
	t.mu.Lock()
	conn := t.conn
	sessionID := t.sessionID
	t.joined = false
	t.mu.Unlock()

	if conn != nil {
		env, err := protocol.NewEnvelope(protocol.MsgLeaveSession, sessionID, t.userID, struct{}{})
		if err == nil {
			conn.WriteJSON(env)
		}
	}
	return t.Close()
}

// Close は接続を閉じ、Disconnectedに遷移する。再接続は行わない。
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	if t.state != StateDisconnected {
		// 明示切断はどの状態からも許可する
		from := t.state
		t.state = StateDisconnected
		if t.onStateChange != nil {
			t.onStateChange(from, StateDisconnected)
		}
	}
	return nil
}

// readLoop は受信メッセージをハンドラーに渡す。
// session_state受信でActiveに遷移する。予期しない読み取りエラーで再接続を開始する。
func (t *Transport) readLoop(conn Conn) {
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.mu.Lock()
			if t.closed || t.conn != conn {
				t.mu.Unlock()
				return
			}
			t.conn = nil
			t.transition(StateReconnecting)
			t.mu.Unlock()

			t.logger.Warn("connection lost, reconnecting",
				slog.String("error", err.Error()),
			)
			go t.reconnectLoop()
			return
		}

		if env.Type == protocol.MsgSessionState {
			t.mu.Lock()
			t.transition(StateActive)
			t.mu.Unlock()
		}

		if t.onEnvelope != nil {
			t.onEnvelope(env)
		}
	}
}

// reconnectLoop は指数バックオフで再接続を試行する。
// 各試行は同じsessionID/projectIDで再接続し、参加済みであれば
// 再参加メッセージを送る（サーバー側では新規セッションではなく再参加として扱われる）。
// 最大試行回数を使い切るとFailedに遷移し、以後は静かに諦める。
func (t *Transport) reconnectLoop() {
	for attempt := 0; attempt < t.maxTry; attempt++ {
		time.Sleep(t.backoff * (1 << attempt))

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		if err := t.transition(StateConnecting); err != nil {
			t.mu.Unlock()
			return
		}
		joined := t.joined
		joinMsg := t.joinMsg
		t.mu.Unlock()

		if err := t.dial(); err != nil {
			t.mu.Lock()
			t.transition(StateReconnecting)
			t.mu.Unlock()
			t.logger.Warn("reconnect attempt failed",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", t.maxTry),
				slog.String("error", err.Error()),
			)
			continue
		}

		if joined {
			if err := t.Join(joinMsg); err != nil {
				t.logger.Warn("rejoin after reconnect failed",
					slog.String("error", err.Error()),
				)
			}
		}
		return
	}

	t.mu.Lock()
	t.transition(StateFailed)
	t.mu.Unlock()
	t.logger.Error("reconnect attempts exhausted",
		slog.Int("max_attempts", t.maxTry),
	)
}
