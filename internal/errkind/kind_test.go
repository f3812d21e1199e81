package errkind

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatalKinds(t *testing.T) {
	assert.True(t, ConfigInvalid.Fatal())
	assert.True(t, InterfaceNotFound.Fatal())
	assert.True(t, PermissionDenied.Fatal())
	assert.False(t, DecodeTruncated.Fatal())
	assert.False(t, BrokerUnavailable.Fatal())
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := New(DatabaseUnavailable, inner)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "database_unavailable: boom", err.Error())
}
