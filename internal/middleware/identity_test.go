package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/siteforge/collab/internal/model"
)

type mockUserFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// TestIdentityMiddleware_ValidUser は実在するユーザーのリクエストが通り、
// コンテキストにユーザーIDが注入されることを検証する。
func TestIdentityMiddleware_ValidUser(t *testing.T) {
	finder := &mockUserFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == "user-a" {
				return &model.User{ID: "user-a", Name: "Alice"}, nil
			}
			return nil, nil
		},
	}

	var capturedUserID string
	handler := NewIdentityMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		capturedUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("X-User-ID", "user-a")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedUserID != "user-a" {
		t.Errorf("userID = %q, want %q", capturedUserID, "user-a")
	}
}

// TestIdentityMiddleware_MissingHeader はヘッダーなしのリクエストが401になることを検証する。
func TestIdentityMiddleware_MissingHeader(t *testing.T) {
	handler := NewIdentityMiddleware(&mockUserFinder{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// TestIdentityMiddleware_UnknownUser は実在しないユーザーのリクエストが401になることを検証する。
func TestIdentityMiddleware_UnknownUser(t *testing.T) {
	handler := NewIdentityMiddleware(&mockUserFinder{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("X-User-ID", "ghost")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// TestIdentityMiddleware_FinderError は検索エラー時に401になることを検証する。
func TestIdentityMiddleware_FinderError(t *testing.T) {
	finder := &mockUserFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, fmt.Errorf("database unavailable")
		},
	}
	handler := NewIdentityMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("X-User-ID", "user-a")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// TestUserIDFromContext_Missing はユーザーIDのないコンテキストでエラーになることを検証する。
func TestUserIDFromContext_Missing(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for context without user ID")
	}
}

// TestContextWithUserID はコンテキストへの注入と取得の往復を検証する。
func TestContextWithUserID(t *testing.T) {
	ctx := ContextWithUserID(context.Background(), "user-b")
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("UserIDFromContext returned error: %v", err)
	}
	if userID != "user-b" {
		t.Errorf("userID = %q, want %q", userID, "user-b")
	}
}
