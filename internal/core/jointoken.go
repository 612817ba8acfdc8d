package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// joinTokenTTL is the validity period of an HMAC-signed join token.
// After this duration the token expires and a new one must be issued.
const joinTokenTTL = 1 * time.Hour

// errInvalidJoinToken is returned for every token verification
// failure. A single message prevents a caller from inferring which
// verification stage failed (decode vs signature vs expiry).
var errInvalidJoinToken = errors.New("core: invalid or expired join token")

// joinTokenClaims is the JSON payload embedded in a join token.
type joinTokenClaims struct {
	Sub  string `json:"sub"`
	Grid string `json:"grid"`
	Iat  int64  `json:"iat"`
	Exp  int64  `json:"exp"`
}

// JoinTokenIssuer signs and verifies HMAC-based tokens that admit a
// new node to a cluster incarnation (spec.md §6 external interface:
// an out-of-band admission check the transport's Start/Collect
// handshake can require before a joining node is handed to the
// Discovery Manager).
type JoinTokenIssuer struct {
	hmacKey []byte
}

// NewJoinTokenIssuer returns a JoinTokenIssuer backed by the given
// HMAC key. The key must be non-empty.
func NewJoinTokenIssuer(hmacKey []byte) (*JoinTokenIssuer, error) {
	if len(hmacKey) == 0 {
		return nil, fmt.Errorf("join token issuer: HMAC key is required")
	}
	return &JoinTokenIssuer{hmacKey: hmacKey}, nil
}

// Issue creates a signed token admitting subject to gridName.
func (i *JoinTokenIssuer) Issue(gridName, subject string) (string, error) {
	now := time.Now()
	claims := joinTokenClaims{
		Sub:  subject,
		Grid: gridName,
		Iat:  now.Unix(),
		Exp:  now.Add(joinTokenTTL).Unix(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal join token claims: %w", err)
	}

	mac := hmac.New(sha256.New, i.hmacKey)
	mac.Write(payload)
	sig := mac.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify validates the HMAC signature and expiry of a join token and
// returns the embedded grid name and subject. All failures return a
// single generic error; verifyDetailed carries the specific reason for
// logging.
func (i *JoinTokenIssuer) Verify(token string) (gridName, subject string, err error) {
	gridName, subject, err = i.verifyDetailed(token)
	if err != nil {
		return "", "", errInvalidJoinToken
	}
	return gridName, subject, nil
}

func (i *JoinTokenIssuer) verifyDetailed(token string) (gridName, subject string, err error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed token")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", "", fmt.Errorf("decode payload: %w", err)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", "", fmt.Errorf("decode signature: %w", err)
	}

	mac := hmac.New(sha256.New, i.hmacKey)
	mac.Write(payloadBytes)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return "", "", fmt.Errorf("invalid token signature")
	}

	var claims joinTokenClaims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return "", "", fmt.Errorf("parse token claims: %w", err)
	}

	now := time.Now().Unix()
	if now > claims.Exp {
		return "", "", fmt.Errorf("token expired")
	}

	const clockSkew = 5 * 60
	maxAge := int64(joinTokenTTL.Seconds()) + clockSkew
	if claims.Iat > now+clockSkew {
		return "", "", fmt.Errorf("token issued in the future")
	}
	if now-claims.Iat > maxAge {
		return "", "", fmt.Errorf("token too old")
	}

	return claims.Grid, claims.Sub, nil
}
