package syncengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestAPIClientMapsStatus(t *testing.T) {
	cases := map[int]apperr.Kind{
		http.StatusUnauthorized:        apperr.KindAuth,
		http.StatusForbidden:           apperr.KindForbidden,
		http.StatusNotFound:            apperr.KindNotFound,
		http.StatusBadRequest:          apperr.KindValidation,
		http.StatusConflict:            apperr.KindConflict,
		http.StatusInternalServerError: apperr.KindPersistence,
		http.StatusServiceUnavailable:  apperr.KindPersistence,
	}
	for code, kind := range cases {
		t.Run(http.StatusText(code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(code)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			api := NewAPIClient(srv.URL, "tok", time.Second)
			_, err := api.ListConversations(context.Background())
			assert.Equal(t, kind, apperr.KindOf(err))
		})
	}
}

func TestAPIClientUnreachableIsPersistence(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewAPIClient(url, "tok", time.Second).DeleteMessage(context.Background(), "m1")
	assert.True(t, apperr.Is(err, apperr.KindPersistence))
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws", wsURL("http://localhost:8080"))
	assert.Equal(t, "wss://chat.example.com/ws", wsURL("https://chat.example.com/"))
	assert.Equal(t, "ws://h/ws", wsURL("ws://h/ws"))
}
