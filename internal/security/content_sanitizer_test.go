package security

import "testing"

// サニタイザがスクリプトタグを除去することを検証
func TestContentSanitizer_RemovesScript(t *testing.T) {
	s := NewContentSanitizer()

	got := s.Sanitize(`hello <script>alert("xss")</script>world`)
	if got != "hello world" {
		t.Errorf("Sanitize = %q, want %q", got, "hello world")
	}
}

// サニタイザが全HTMLタグを除去しテキストのみ残すことを検証
func TestContentSanitizer_StripsAllTags(t *testing.T) {
	s := NewContentSanitizer()

	tests := []struct {
		in   string
		want string
	}{
		{`<b>bold</b> text`, "bold text"},
		{`<a href="https://example.com">link</a>`, "link"},
		{`<img src="x" onerror="alert(1)">caption`, "caption"},
		{``, ""},
		{`plain text`, "plain text"},
	}

	for _, tt := range tests {
		if got := s.Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// サニタイズが冪等であることを検証
func TestContentSanitizer_Idempotent(t *testing.T) {
	s := NewContentSanitizer()

	in := `<div>nested <span>tags</span></div>`
	once := s.Sanitize(in)
	twice := s.Sanitize(once)
	if once != twice {
		t.Errorf("Sanitize is not idempotent: %q != %q", once, twice)
	}
}
