package claimsync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestRPCStrategyNilConfig(t *testing.T) {
	require.Nil(t, NewRPCStrategy(nil))
}

func TestRPCStrategySendsSignedRequest(t *testing.T) {
	const secret = "test-secret"
	var gotBody map[string]any
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	strategy := NewRPCStrategy(&RPCConfig{Endpoint: server.URL, Secret: secret})
	applied, err := strategy.TryPersist(context.Background(), "a1",
		map[string]any{"status": StatusDone}, Record{ID: "a1"})
	require.NoError(t, err)
	require.True(t, applied)

	require.Equal(t, "a1", gotBody["local_key"])
	patch, ok := gotBody["patch"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, StatusDone, patch["status"])

	// The bearer token must be a valid HS256 service token.
	tokenString := strings.TrimPrefix(gotAuth, "Bearer ")
	require.NotEqual(t, gotAuth, tokenString)
	token, err := jwt.Parse(tokenString, func(tok *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	require.Equal(t, "service_role", claims["role"])
	require.Equal(t, "claimsync", claims["iss"])
}

func TestRPCStrategyNonOKFallsThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "function not found", http.StatusNotFound)
	}))
	defer server.Close()

	strategy := NewRPCStrategy(&RPCConfig{Endpoint: server.URL, Secret: "s"})
	applied, err := strategy.TryPersist(context.Background(), "a1", map[string]any{}, Record{})
	require.False(t, applied)
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestRPCStrategyUnreachableEndpoint(t *testing.T) {
	strategy := NewRPCStrategy(&RPCConfig{Endpoint: "http://127.0.0.1:1", Secret: "s"})
	applied, err := strategy.TryPersist(context.Background(), "a1", map[string]any{}, Record{})
	require.False(t, applied)
	require.Error(t, err)
}
