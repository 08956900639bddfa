package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireOverrideRole(t *testing.T) {
	allowed := []string{"human_founder", "admin"}
	assert.NoError(t, RequireOverrideRole("DESIRABILITY", []string{"viewer", "Admin"}, allowed))

	err := RequireOverrideRole("DESIRABILITY", []string{"viewer"}, allowed)
	var forbidden ForbiddenOverrideError
	require.True(t, errors.As(err, &forbidden))
	assert.Equal(t, "DESIRABILITY", forbidden.Gate)
	assert.Equal(t, "override of DESIRABILITY gate requires one of [human_founder,admin], have viewer", err.Error())

	assert.Error(t, RequireOverrideRole("VIABILITY", nil, allowed))
	assert.Error(t, RequireOverrideRole("VIABILITY", []string{"admin"}, nil))
}
