package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// ロールごとの権限導出が決定論的であることを検証
func TestPermissionsForRole(t *testing.T) {
	tests := []struct {
		role Role
		want Permissions
	}{
		{RoleOwner, Permissions{Edit: true, Comment: true, Share: true, Invite: true}},
		{RoleEditor, Permissions{Edit: true, Comment: true}},
		{RoleViewer, Permissions{}},
	}

	for _, tt := range tests {
		got := PermissionsForRole(tt.role)
		if got != tt.want {
			t.Errorf("PermissionsForRole(%s) = %+v, want %+v", tt.role, got, tt.want)
		}
	}
}

// 未定義ロールは権限なしとして扱われることを検証
func TestPermissionsForRole_UnknownRole(t *testing.T) {
	got := PermissionsForRole(Role("admin"))
	if got != (Permissions{}) {
		t.Errorf("unknown role should have no permissions, got %+v", got)
	}
}

// Role.Validが定義済みロールのみ許可することを検証
func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleOwner, RoleEditor, RoleViewer} {
		if !r.Valid() {
			t.Errorf("Role(%s).Valid() = false, want true", r)
		}
	}
	if Role("admin").Valid() {
		t.Error("Role(admin).Valid() = true, want false")
	}
	if Role("").Valid() {
		t.Error("empty role should be invalid")
	}
}

// ChangeType.Validが定義済み変更種別のみ許可することを検証
func TestChangeType_Valid(t *testing.T) {
	valid := []ChangeType{
		ChangeComponentAdd, ChangeComponentUpdate, ChangeComponentDelete,
		ChangeComponentMove, ChangeStyleUpdate,
	}
	for _, ct := range valid {
		if !ct.Valid() {
			t.Errorf("ChangeType(%s).Valid() = false, want true", ct)
		}
	}
	if ChangeType("component_rename").Valid() {
		t.Error("undefined change type should be invalid")
	}
}

// NewEnvelopeがペイロードをJSONとして埋め込むことを検証
func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(MsgCursorMove, "ABC123", "user-1", CursorMovePayload{X: 10, Y: 20})
	if err != nil {
		t.Fatalf("NewEnvelope returned error: %v", err)
	}

	if env.Type != MsgCursorMove {
		t.Errorf("Type = %s, want %s", env.Type, MsgCursorMove)
	}
	if env.SessionID != "ABC123" {
		t.Errorf("SessionID = %s, want ABC123", env.SessionID)
	}
	if env.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}

	var p CursorMovePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if p.X != 10 || p.Y != 20 {
		t.Errorf("payload = %+v, want {10 20}", p)
	}
}

// Envelopeがワイヤ形式（JSONキー名）を維持することを検証
func TestEnvelope_WireFormat(t *testing.T) {
	env, err := NewEnvelope(MsgJoinSession, "ABC123", "user-1", JoinPayload{
		ProjectID: "proj-1",
		UserName:  "Alice",
		UserEmail: "alice@example.com",
		Role:      RoleOwner,
	})
	if err != nil {
		t.Fatalf("NewEnvelope returned error: %v", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}

	for _, key := range []string{`"type"`, `"sessionId"`, `"userId"`, `"payload"`, `"timestamp"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("wire format missing key %s: %s", key, data)
		}
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal envelope: %v", err)
	}
	if decoded.Type != MsgJoinSession || decoded.SessionID != "ABC123" {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
}

// セッションコードが6文字の大文字英数字であることを検証
func TestNewSessionCode_Format(t *testing.T) {
	code, err := NewSessionCode()
	if err != nil {
		t.Fatalf("NewSessionCode returned error: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("code length = %d, want 6", len(code))
	}
	for _, c := range code {
		if !strings.ContainsRune(sessionCodeAlphabet, c) {
			t.Errorf("code contains invalid character: %q", c)
		}
	}
}

// セッションコードが毎回異なることを検証（衝突は理論上ありうるが100回では実質起きない）
func TestNewSessionCode_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := NewSessionCode()
		if err != nil {
			t.Fatalf("NewSessionCode returned error: %v", err)
		}
		if seen[code] {
			t.Fatalf("duplicate session code generated: %s", code)
		}
		seen[code] = true
	}
}

// Participantのカーソル未設定時にJSONへcursorキーが現れないことを検証
func TestParticipant_OmitsNilCursor(t *testing.T) {
	p := Participant{ID: "user-1", Role: RoleEditor, LastSeen: time.Now()}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("failed to marshal participant: %v", err)
	}
	if strings.Contains(string(data), `"cursor"`) {
		t.Errorf("nil cursor should be omitted: %s", data)
	}
	if strings.Contains(string(data), `"selection"`) {
		t.Errorf("nil selection should be omitted: %s", data)
	}
}
