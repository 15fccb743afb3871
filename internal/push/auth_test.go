// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/splitsync/internal/controlplane"
)

func TestAuthenticator_Success(t *testing.T) {
	t.Parallel()

	channels := map[string][]string{
		"xxx_splits":  {"subscribe"},
		"control_pri": {"subscribe", "channel-metadata:publishers"},
	}
	delay := int64(5)
	jwtToken := signedToken(t, channels, time.Hour)
	auth := &fakeAuth{respond: func(int, []string) (*controlplane.AuthResponse, error) {
		return &controlplane.AuthResponse{PushEnabled: true, Token: jwtToken, ConnDelay: &delay}, nil
	}}

	token, err := NewAuthenticator(auth).Authenticate(context.Background(), []string{"user-1"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !token.PushEnabled {
		t.Error("PushEnabled = false, want true")
	}
	if token.ConnDelay != 5*time.Second {
		t.Errorf("ConnDelay = %v, want 5s", token.ConnDelay)
	}
	if got := token.ExpiresAt - token.IssuedAt; got != 3600 {
		t.Errorf("token lifetime = %ds, want 3600", got)
	}
	if len(token.Channels) != 2 || len(token.Channels["control_pri"]) != 2 {
		t.Errorf("Channels = %v, want %v", token.Channels, channels)
	}
	if keys := auth.lastKeys(); len(keys) != 1 || keys[0] != "user-1" {
		t.Errorf("requested keys = %v, want [user-1]", keys)
	}
}

func TestAuthenticator_NoConnDelay(t *testing.T) {
	t.Parallel()

	jwtToken := signedToken(t, map[string][]string{"xxx_splits": {"subscribe"}}, time.Hour)
	auth := &fakeAuth{respond: func(int, []string) (*controlplane.AuthResponse, error) {
		return &controlplane.AuthResponse{PushEnabled: true, Token: jwtToken}, nil
	}}

	token, err := NewAuthenticator(auth).Authenticate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if token.ConnDelay >= 0 {
		t.Errorf("ConnDelay = %v, want negative when unspecified", token.ConnDelay)
	}
}

func TestAuthenticator_PushDisabled(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{respond: func(int, []string) (*controlplane.AuthResponse, error) {
		return &controlplane.AuthResponse{PushEnabled: false}, nil
	}}

	token, err := NewAuthenticator(auth).Authenticate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if token.PushEnabled {
		t.Error("PushEnabled = true, want false")
	}
}

func TestAuthenticator_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		respond   func(int, []string) (*controlplane.AuthResponse, error)
		retryable bool
		invalid   bool
	}{
		{
			name: "unauthorized",
			respond: func(int, []string) (*controlplane.AuthResponse, error) {
				return nil, &controlplane.HTTPError{Resource: "auth", StatusCode: 401}
			},
			retryable: false,
		},
		{
			name: "server error",
			respond: func(int, []string) (*controlplane.AuthResponse, error) {
				return nil, &controlplane.HTTPError{Resource: "auth", StatusCode: 503}
			},
			retryable: true,
		},
		{
			name: "network error",
			respond: func(int, []string) (*controlplane.AuthResponse, error) {
				return nil, errors.New("connection refused")
			},
			retryable: true,
		},
		{
			name: "malformed token",
			respond: func(int, []string) (*controlplane.AuthResponse, error) {
				return &controlplane.AuthResponse{PushEnabled: true, Token: "not.a.jwt"}, nil
			},
			retryable: true,
			invalid:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewAuthenticator(&fakeAuth{respond: tt.respond}).Authenticate(context.Background(), nil)
			if err == nil {
				t.Fatal("Authenticate() error = nil, want error")
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if tt.invalid && !errors.Is(err, ErrInvalidToken) {
				t.Errorf("error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestIsRetryable_Unclassified(t *testing.T) {
	t.Parallel()

	if !IsRetryable(errors.New("boom")) {
		t.Error("IsRetryable() = false for an unclassified error, want true")
	}
}
