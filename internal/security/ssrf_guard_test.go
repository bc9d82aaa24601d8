package security

import (
	"testing"
	"time"
)

// ssrfGuardはSSRFGuardServiceインターフェースを満たすことを検証
func TestSSRFGuard_ImplementsInterface(t *testing.T) {
	var _ SSRFGuardService = (*ssrfGuard)(nil)
}

// ValidateURLが危険なURLを拒否することを検証
func TestSSRFGuard_ValidateURL_Blocked(t *testing.T) {
	g := NewSSRFGuard()

	blocked := []string{
		"",
		"ftp://example.com/file",
		"javascript:alert(1)",
		"http://localhost/generate",
		"http://127.0.0.1:8080/generate",
		"http://10.0.0.5/api",
		"http://192.168.1.1/",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/",
	}

	for _, u := range blocked {
		if err := g.ValidateURL(u); err == nil {
			t.Errorf("ValidateURL(%q) = nil, want error", u)
		}
	}
}

// ValidateURLが公開URLを許可することを検証
func TestSSRFGuard_ValidateURL_Allowed(t *testing.T) {
	g := NewSSRFGuard()

	allowed := []string{
		"https://api.example.com/generate",
		"http://ai.example.org/v1/text",
		"https://8.8.8.8/endpoint",
	}

	for _, u := range allowed {
		if err := g.ValidateURL(u); err != nil {
			t.Errorf("ValidateURL(%q) = %v, want nil", u, err)
		}
	}
}

// NewSafeClientがタイムアウト付きクライアントを返すことを検証
func TestSSRFGuard_NewSafeClient(t *testing.T) {
	g := NewSSRFGuard()

	client := g.NewSafeClient(5 * time.Second)
	if client == nil {
		t.Fatal("expected non-nil client")
	}
}
