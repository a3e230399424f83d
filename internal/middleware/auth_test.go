package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/todoman/internal/model"
)

// stubFinder はUserFinderのテスト用実装。
type stubFinder struct {
	user  *model.User
	err   error
	calls int
	token string
}

func (f *stubFinder) FindByToken(ctx context.Context, token string) (*model.User, error) {
	f.calls++
	f.token = token
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

func TestAuthMiddleware_MissingHeader_Returns401WithoutBody(t *testing.T) {
	finder := &stubFinder{user: &model.User{ID: "user-1"}}
	called := false
	handler := NewAuthMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/todos", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
	if called {
		t.Error("next handler must not be called")
	}
	if finder.calls != 0 {
		t.Errorf("finder called %d times, want 0", finder.calls)
	}
}

func TestAuthMiddleware_RejectedToken_Returns401(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unauthorized", model.NewUnauthorizedError()},
		{"store failure", errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finder := &stubFinder{err: tt.err}
			handler := NewAuthMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("next handler must not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/todos", nil)
			req.Header.Set(AuthHeader, "forged")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if w.Body.Len() != 0 {
				t.Errorf("body = %q, want empty", w.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_ValidToken_InjectsUserAndToken(t *testing.T) {
	user := &model.User{ID: "user-1", Email: "a@example.com"}
	finder := &stubFinder{user: user}

	var gotUser *model.User
	var gotToken string
	handler := NewAuthMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		gotUser, err = UserFromContext(r.Context())
		if err != nil {
			t.Fatalf("UserFromContext error: %v", err)
		}
		gotToken, err = TokenFromContext(r.Context())
		if err != nil {
			t.Fatalf("TokenFromContext error: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set(AuthHeader, "good-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUser != user {
		t.Errorf("user = %+v, want %+v", gotUser, user)
	}
	if gotToken != "good-token" {
		t.Errorf("token = %q, want %q", gotToken, "good-token")
	}
	if finder.token != "good-token" {
		t.Errorf("finder received %q, want %q", finder.token, "good-token")
	}
}

func TestContextHelpers_EmptyContext(t *testing.T) {
	ctx := context.Background()

	if _, err := UserFromContext(ctx); err == nil {
		t.Error("UserFromContext: expected error")
	}
	if _, err := UserIDFromContext(ctx); err == nil {
		t.Error("UserIDFromContext: expected error")
	}
	if _, err := TokenFromContext(ctx); err == nil {
		t.Error("TokenFromContext: expected error")
	}
}

func TestUserIDFromContext(t *testing.T) {
	ctx := ContextWithUser(context.Background(), &model.User{ID: "user-42"}, "tok")

	id, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("UserIDFromContext error: %v", err)
	}
	if id != "user-42" {
		t.Errorf("id = %q, want %q", id, "user-42")
	}
}
