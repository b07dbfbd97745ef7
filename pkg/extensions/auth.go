// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when authentication or authorization fails.
// Implementations should wrap this error with additional context:
//
//	return nil, fmt.Errorf("invalid token format: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo contains identity information returned after successful
// authentication.
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	// This is the only required field and must never be empty.
	UserID string

	// Email is the user's email address. May be empty.
	Email string

	// StudioID identifies the tenant in multi-studio deployments.
	// Empty in the single-studio build.
	StudioID string

	// Roles contains the user's role memberships for authorization
	// decisions. Common roles: "titolare", "collaboratore", "praticante".
	Roles []string
}

// HasRole reports whether the user holds the given role.
func (a *AuthInfo) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates authentication tokens.
//
// The open source build uses NopAuthProvider, which accepts every request
// as the local professional. Multi-tenant deployments validate against
// their identity provider and return real claims.
type AuthProvider interface {
	// Validate checks the token and returns the caller's identity.
	// An empty token is passed through unchanged; providers decide
	// whether anonymous access is acceptable.
	//
	// Returns ErrUnauthorized (possibly wrapped) on rejection.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// AuthzRequest describes one authorization check.
type AuthzRequest struct {
	// User is the authenticated caller.
	User *AuthInfo

	// Action is the operation being attempted ("chat", "stream",
	// "cost_report").
	Action string

	// Resource is the target of the action, if any.
	Resource string
}

// AuthzProvider checks whether an authenticated user may perform an
// action.
type AuthzProvider interface {
	// Authorize returns nil if the request is allowed, ErrUnauthorized
	// (possibly wrapped) otherwise.
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthProvider accepts every request as the local professional.
// This is the single-studio default: the service binds to localhost and
// trusts its caller.
type NopAuthProvider struct{}

// Validate always succeeds with the local identity.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-professional",
		Roles:  []string{"titolare"},
	}, nil
}

// NopAuthzProvider allows every action.
type NopAuthzProvider struct{}

// Authorize always returns nil.
func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
)
