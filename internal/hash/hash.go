package hash

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"trevvos-auth/internal/model"
)

// Cost is the bcrypt work factor applied to passwords and refresh secrets.
const Cost = 12

// Hash produces a salted bcrypt digest of the given secret. Two calls with
// the same input yield different digests; Verify matches either.
func Hash(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("hash: %w: empty secret", model.ErrInvalidInput)
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(secret), Cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}

	return string(digest), nil
}

// Verify reports whether secret matches the stored digest. A plain mismatch
// returns (false, nil). A digest that cannot be parsed returns an error
// wrapping model.ErrCorruptCredential: a corrupted stored hash is a data
// integrity failure and must not be indistinguishable from a wrong password.
func Verify(secret string, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret))
	if err == nil {
		return true, nil
	}

	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}

	return false, fmt.Errorf("%w: %v", model.ErrCorruptCredential, err)
}
