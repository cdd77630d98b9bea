// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

type contextKey string

const (
	adminIDKey  contextKey = "admin_id"
	deviceIDKey contextKey = "device_id"
)

// SetAdminID sets the acting admin identity in the context. Verification
// actions stamp it into the audit trail.
func SetAdminID(ctx context.Context, adminID string) context.Context {
	return context.WithValue(ctx, adminIDKey, adminID)
}

// GetAdminID retrieves the acting admin identity from the context.
func GetAdminID(ctx context.Context) (string, bool) {
	adminID, ok := ctx.Value(adminIDKey).(string)
	return adminID, ok
}

// SetDeviceID sets the submitting device identity in the context.
func SetDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// GetDeviceID retrieves the submitting device identity from the context.
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok
}
