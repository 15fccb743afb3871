// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/splitsync/internal/controlplane"
	"github.com/tomtom215/splitsync/internal/models"
)

// capabilityClaim lists the channels a streaming token grants.
const capabilityClaim = "x-ably-capability"

// ErrInvalidToken is returned when a streaming token lacks required claims.
var ErrInvalidToken = errors.New("push: invalid streaming token")

// AuthFetcher requests streaming tokens.
type AuthFetcher interface {
	FetchAuth(ctx context.Context, userKeys []string) (*controlplane.AuthResponse, error)
}

// Error classifies a failure of the push subsystem.
type Error struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	kind := "retryable"
	if !e.Retryable {
		kind = "non-retryable"
	}
	return fmt.Sprintf("push %s (%s): %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err may succeed on a later attempt. Errors not
// classified by this package are retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

// Authenticator obtains streaming tokens and decodes their claims.
type Authenticator struct {
	fetcher AuthFetcher
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(fetcher AuthFetcher) *Authenticator {
	return &Authenticator{fetcher: fetcher}
}

// Authenticate requests a token for userKeys (client-side engines) or for
// the SDK key alone (server-side engines, nil userKeys). A token with
// PushEnabled false is a normal result. Client errors (4xx) are
// non-retryable; network, server and decoding errors are retryable.
func (a *Authenticator) Authenticate(ctx context.Context, userKeys []string) (*models.AuthToken, error) {
	resp, err := a.fetcher.FetchAuth(ctx, userKeys)
	if err != nil {
		var he *controlplane.HTTPError
		if errors.As(err, &he) && he.IsClientError() {
			return nil, &Error{Op: "auth", Retryable: false, Err: err}
		}
		return nil, &Error{Op: "auth", Retryable: true, Err: err}
	}

	token := &models.AuthToken{PushEnabled: resp.PushEnabled, Token: resp.Token}
	if !resp.PushEnabled {
		return token, nil
	}

	if resp.ConnDelay != nil && *resp.ConnDelay >= 0 {
		token.ConnDelay = time.Duration(*resp.ConnDelay) * time.Second
	} else {
		token.ConnDelay = -1
	}

	if err := decodeToken(token); err != nil {
		return nil, &Error{Op: "auth", Retryable: true, Err: err}
	}
	return token, nil
}

// decodeToken reads the claims of the JWT without verifying its signature;
// the streaming server verifies it.
func decodeToken(token *models.AuthToken) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token.Token, claims); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return fmt.Errorf("%w: missing or invalid iat", ErrInvalidToken)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fmt.Errorf("%w: missing or invalid exp", ErrInvalidToken)
	}
	token.IssuedAt = iat.Unix()
	token.ExpiresAt = exp.Unix()

	capability, ok := claims[capabilityClaim].(string)
	if !ok {
		return fmt.Errorf("%w: missing %s", ErrInvalidToken, capabilityClaim)
	}
	if err := json.Unmarshal([]byte(capability), &token.Channels); err != nil {
		return fmt.Errorf("%w: invalid %s: %v", ErrInvalidToken, capabilityClaim, err)
	}
	return nil
}
