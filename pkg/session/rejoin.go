package session

import (
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"

	"github.com/gtank/cryptopasta"

	"github.com/dreamware/infdserver/pkg/errcode"
)

// RejoinSigner issues and verifies the resync-authentication token
// carried in a <user-rejoin/> message (§6.2). The token is bound to
// the session path, account, and user id it was minted for, so a
// token captured for one document can never be replayed against
// another or presented by a different account.
//
// Grounded in storj's certificate-based GenerateSignature/
// SignedMessage pair, simplified to a single server-held signing key
// rather than a per-peer X.509 identity, since certificate-based
// credentials are a boundary concern here (pkg/directory.
// Authenticator), not something this layer verifies directly.
type RejoinSigner struct {
	key *ecdsa.PrivateKey
}

// NewRejoinSigner returns a signer using key for both issuing and
// verifying tokens.
func NewRejoinSigner(key *ecdsa.PrivateKey) *RejoinSigner {
	return &RejoinSigner{key: key}
}

// GenerateRejoinKey returns a fresh ECDSA signing key, e.g. for a
// server starting without a previously persisted one.
func GenerateRejoinKey() (*ecdsa.PrivateKey, error) {
	return cryptopasta.NewSigningKey()
}

func rejoinMessage(sessionPath, account string, userID uint32) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", sessionPath, account, userID))
}

// Token issues a base64-encoded signature binding sessionPath,
// account, and userID together, to be presented back verbatim in a
// later <user-rejoin/>.
func (s *RejoinSigner) Token(sessionPath, account string, userID uint32) (string, error) {
	sig, err := cryptopasta.Sign(rejoinMessage(sessionPath, account, userID), s.key)
	if err != nil {
		return "", errcode.New(errcode.DomainAuthentication, errcode.AuthServerError, "signing rejoin token: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports an error unless token was actually issued by this
// signer for exactly this (sessionPath, account, userID) triple.
func (s *RejoinSigner) Verify(sessionPath, account string, userID uint32, token string) error {
	sig, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return errcode.New(errcode.DomainAuthentication, errcode.AuthBadCredentials, "malformed rejoin token")
	}
	if !cryptopasta.Verify(rejoinMessage(sessionPath, account, userID), sig, &s.key.PublicKey) {
		return errcode.New(errcode.DomainAuthentication, errcode.AuthBadCredentials, "rejoin token does not verify")
	}
	return nil
}
