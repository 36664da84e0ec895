package protocol

import (
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashLock pairs an unlock secret with its commitment.
type HashLock struct {
	Secret common.Hash `json:"unlock_secret"`
	Lock   common.Hash `json:"hash_lock"`
}

// NewHashLock draws a fresh 32-byte secret. The caller must keep the secret;
// it is needed for the progress step and is never stored here.
func NewHashLock() (HashLock, error) {
	var secret common.Hash
	if _, err := rand.Read(secret[:]); err != nil {
		return HashLock{}, fmt.Errorf("read random secret: %w", err)
	}
	return HashLock{Secret: secret, Lock: LockFor(secret)}, nil
}

// LockFor returns the commitment for secret.
func LockFor(secret common.Hash) common.Hash {
	return crypto.Keccak256Hash(secret.Bytes())
}

// VerifyHashLock reports whether secret opens lock.
func VerifyHashLock(secret, lock common.Hash) bool {
	return LockFor(secret) == lock
}
