package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptionService(t *testing.T) {
	svc, err := NewEncryptionService(strings.Repeat("a", 32))
	require.NoError(t, err)

	enc, err := svc.Encrypt(`{"password":"s3cret"}`)
	require.NoError(t, err)
	assert.NotContains(t, enc, "s3cret")

	again, err := svc.Encrypt(`{"password":"s3cret"}`)
	require.NoError(t, err)
	assert.NotEqual(t, enc, again, "nonce must differ per call")

	dec, err := svc.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, `{"password":"s3cret"}`, dec)

	other, err := NewEncryptionService(strings.Repeat("b", 32))
	require.NoError(t, err)
	_, err = other.Decrypt(enc)
	assert.Error(t, err)

	_, err = svc.Decrypt("AAAA")
	assert.Error(t, err)
}

func TestEncryptionServiceShortKey(t *testing.T) {
	_, err := NewEncryptionService("short")
	assert.Error(t, err)
}

func TestDeriveKeyPurposes(t *testing.T) {
	secret := strings.Repeat("x", 40)
	a, err := DeriveKey(secret, PurposeCookieHash, 32)
	require.NoError(t, err)
	b, err := DeriveKey(secret, PurposeCookieEnc, 32)
	require.NoError(t, err)
	again, err := DeriveKey(secret, PurposeCookieHash, 32)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)
}
