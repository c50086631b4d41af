package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/infdserver/pkg/session"
)

func TestRejoinTokenRoundTrips(t *testing.T) {
	key, err := session.GenerateRejoinKey()
	require.NoError(t, err)
	signer := session.NewRejoinSigner(key)

	token, err := signer.Token("docs/notes.txt", "alice", 3)
	require.NoError(t, err)

	assert.NoError(t, signer.Verify("docs/notes.txt", "alice", 3, token))
}

func TestRejoinTokenRejectsMismatchedBinding(t *testing.T) {
	key, err := session.GenerateRejoinKey()
	require.NoError(t, err)
	signer := session.NewRejoinSigner(key)

	token, err := signer.Token("docs/notes.txt", "alice", 3)
	require.NoError(t, err)

	assert.Error(t, signer.Verify("docs/other.txt", "alice", 3, token))
	assert.Error(t, signer.Verify("docs/notes.txt", "bob", 3, token))
	assert.Error(t, signer.Verify("docs/notes.txt", "alice", 4, token))
}

func TestRejoinTokenRejectsForeignKey(t *testing.T) {
	keyA, err := session.GenerateRejoinKey()
	require.NoError(t, err)
	keyB, err := session.GenerateRejoinKey()
	require.NoError(t, err)

	token, err := session.NewRejoinSigner(keyA).Token("docs/notes.txt", "alice", 3)
	require.NoError(t, err)

	assert.Error(t, session.NewRejoinSigner(keyB).Verify("docs/notes.txt", "alice", 3, token))
}

func TestRejoinTokenRejectsMalformedInput(t *testing.T) {
	key, err := session.GenerateRejoinKey()
	require.NoError(t, err)
	signer := session.NewRejoinSigner(key)

	assert.Error(t, signer.Verify("docs/notes.txt", "alice", 3, "not-base64!!"))
}
