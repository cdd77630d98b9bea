// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package claimsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RPCConfig configures the optional privileged stored-procedure strategy.
// The call goes over HTTP to the backend's RPC endpoint with a short-lived
// HS256 service token; the procedure applies the patch transactionally.
type RPCConfig struct {
	Endpoint string        // e.g. https://backend.example/rpc/claim_guard_update
	Secret   string        // HS256 signing secret for the service token
	Issuer   string        // token issuer, defaults to "claimsync"
	TokenTTL time.Duration // defaults to 2 minutes
	HTTP     *http.Client  // defaults to a 30s-timeout client
}

// rpcStrategy is the fastest persistence path when configured. Any failure
// falls through to the SQL strategies - the RPC is an optimization, never
// required for correctness.
type rpcStrategy struct {
	config *RPCConfig
}

// NewRPCStrategy wraps an RPCConfig as a PersistStrategy. Returns nil when
// config is nil so callers can pass the result straight to
// NewPgRemoteStore.
func NewRPCStrategy(config *RPCConfig) PersistStrategy {
	if config == nil {
		return nil
	}
	return &rpcStrategy{config: config}
}

func (r *rpcStrategy) Name() string { return "rpc" }

func (r *rpcStrategy) TryPersist(ctx context.Context, id string, patch map[string]any, _ Record) (bool, error) {
	token, err := r.serviceToken()
	if err != nil {
		return false, fmt.Errorf("mint service token: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"local_key": id,
		"patch":     patch,
	})
	if err != nil {
		return false, fmt.Errorf("encode rpc body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := r.config.HTTP
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little of the body for the error message, then fall through.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("rpc returned %d: %s", resp.StatusCode, string(msg))
	}
	return true, nil
}

// serviceToken mints a short-lived HS256 token identifying this caller as
// the privileged service role.
func (r *rpcStrategy) serviceToken() (string, error) {
	issuer := r.config.Issuer
	if issuer == "" {
		issuer = "claimsync"
	}
	ttl := r.config.TokenTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"role": "service_role",
		"iss":  issuer,
		"iat":  jwt.NewNumericDate(now),
		"exp":  jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(r.config.Secret))
}
