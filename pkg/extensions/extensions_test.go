// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsAreNoOps(t *testing.T) {
	opts := DefaultOptions()

	require.NotNil(t, opts.AuthProvider)
	require.NotNil(t, opts.AuthzProvider)
	require.NotNil(t, opts.AuditLogger)

	info, err := opts.AuthProvider.Validate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "local-professional", info.UserID)
	assert.True(t, info.HasRole("titolare"))

	err = opts.AuthzProvider.Authorize(context.Background(), AuthzRequest{
		User:   info,
		Action: "chat",
	})
	assert.NoError(t, err)

	err = opts.AuditLogger.Log(context.Background(), AuditEvent{EventType: "chat.request"})
	assert.NoError(t, err)
}

func TestWithAuthOverrides(t *testing.T) {
	custom := &NopAuthProvider{}
	opts := DefaultOptions().WithAuth(custom)

	assert.Same(t, custom, opts.AuthProvider)
}

func TestHasRole(t *testing.T) {
	info := &AuthInfo{UserID: "u1", Roles: []string{"collaboratore"}}

	assert.True(t, info.HasRole("collaboratore"))
	assert.False(t, info.HasRole("titolare"))

	var nilInfo *AuthInfo
	assert.False(t, nilInfo.HasRole("titolare"))
}
