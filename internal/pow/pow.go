// Package pow implements the hash puzzles the JEFE COIN economy is built on.
// A puzzle is solved by finding a nonce such that sha256(challenge + nonce)
// has the required number of leading zero hex characters.
package pow

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DigestLen is the length of a hex-encoded sha256 digest.
const DigestLen = 64

// Digest computes the hex digest for a challenge/nonce pair.
func Digest(challenge string, nonce int64) string {
	sum := sha256.Sum256([]byte(challenge + strconv.FormatInt(nonce, 10)))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest for a challenge/nonce pair and reports whether
// it matches the claimed digest and carries at least difficulty leading zero
// hex characters. Malformed input yields false, never an error.
func Verify(challenge string, nonce int64, claimedDigest string, difficulty int) bool {
	if challenge == "" || difficulty <= 0 || difficulty > DigestLen {
		return false
	}
	if len(claimedDigest) != DigestLen {
		return false
	}

	digest := Digest(challenge, nonce)
	if digest != strings.ToLower(claimedDigest) {
		return false
	}

	return MeetsDifficulty(digest, difficulty)
}

// MeetsDifficulty reports whether a hex digest has at least difficulty
// leading zero characters.
func MeetsDifficulty(digest string, difficulty int) bool {
	if difficulty <= 0 || difficulty > len(digest) {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if digest[i] != '0' {
			return false
		}
	}
	return true
}

// NewChallenge generates a random 32-character hex challenge string.
func NewChallenge() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Solution is a successfully mined proof.
type Solution struct {
	Challenge  string
	Nonce      int64
	Digest     string
	Difficulty int
	Elapsed    time.Duration
}

// Search iterates nonces from zero until it finds a digest meeting the
// difficulty or the budget runs out. Returns ok=false on a miss; ctx
// cancellation also counts as a miss.
func Search(ctx context.Context, challenge string, difficulty int, budget time.Duration) (Solution, bool) {
	start := time.Now()
	deadline := start.Add(budget)

	for nonce := int64(0); ; nonce++ {
		// Check cancellation and the budget periodically, not per hash
		if nonce&0x3ff == 0 {
			if time.Now().After(deadline) {
				return Solution{}, false
			}
			select {
			case <-ctx.Done():
				return Solution{}, false
			default:
			}
		}

		digest := Digest(challenge, nonce)
		if MeetsDifficulty(digest, difficulty) {
			return Solution{
				Challenge:  challenge,
				Nonce:      nonce,
				Digest:     digest,
				Difficulty: difficulty,
				Elapsed:    time.Since(start),
			}, true
		}
	}
}
