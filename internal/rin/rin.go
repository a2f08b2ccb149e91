// Package rin holds the cryptographic primitives behind RIN issuance:
// code generation, claim tokens, and agent API keys.
package rin

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// Alphabet is the 32-symbol set used for RIN codes. Visually ambiguous
// characters (0/O and 1/I) are excluded.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Code lengths are chosen uniformly in [MinCodeLen, MaxCodeLen].
const (
	MinCodeLen = 6
	MaxCodeLen = 8
)

// KeyPrefix marks agent API keys so malformed credentials can be
// rejected before any store lookup.
const KeyPrefix = "rin_"

// GenerateCode returns a new candidate RIN. Uniqueness is not
// guaranteed here; callers resolve collisions against the store.
func GenerateCode() string {
	n := codeLength()
	buf := make([]byte, n)
	mustRead(buf)

	// Alphabet has 32 symbols, so a byte modulo 32 is unbiased.
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = Alphabet[b%32]
	}
	return string(out)
}

// codeLength picks a length in [MinCodeLen, MaxCodeLen] by rejection
// sampling, keeping the choice uniform.
func codeLength() int {
	const span = MaxCodeLen - MinCodeLen + 1
	const max = 256 - 256%span
	var one [1]byte
	for {
		mustRead(one[:])
		if int(one[0]) < max {
			return MinCodeLen + int(one[0])%span
		}
	}
}

// GenerateClaimToken returns a fresh one-time claim token: 256 bits of
// randomness, base64url without padding.
func GenerateClaimToken() string {
	return randomToken()
}

// HashClaimToken derives the stored form of a claim token. The pepper
// is mixed in with a separator so the hash is useless without it even
// if the store leaks.
func HashClaimToken(token, pepper string) string {
	sum := sha256.Sum256([]byte(pepper + ":" + token))
	return hex.EncodeToString(sum[:])
}

// NewAPIKey returns a fresh agent credential: the recognizable prefix
// followed by 256 bits of randomness, base64url without padding.
func NewAPIKey() string {
	return KeyPrefix + randomToken()
}

// HashAPIKey derives the stored form of an API key using an HMAC keyed
// by the pepper. Deterministic on purpose: the hash is the lookup key
// for authentication.
func HashAPIKey(key, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

func randomToken() string {
	buf := make([]byte, 32)
	mustRead(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func mustRead(buf []byte) {
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(err)
	}
}
