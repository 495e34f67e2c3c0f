package password

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const bcryptSHA256Prefix = "$bcrypt-sha256$"

// Bcrypt hashes secrets with bcrypt after a SHA-256 prehash.
//
// bcrypt only reads the first 72 bytes of its input. Signed tokens share long
// common prefixes (header and leading claims), so hashing them directly would
// make different tokens verify against each other. The prehash folds the full
// secret into 44 base64 characters first.
//
// Encoded form: $bcrypt-sha256$<bcrypt hash>. Plain bcrypt hashes ($2a$, $2b$,
// $2y$) are still accepted by Verify so imported accounts keep working.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a Bcrypt hasher with the given work factor.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	return &Bcrypt{cost: cost}, nil
}

// Cost returns the configured work factor.
func (b *Bcrypt) Cost() int {
	return b.cost
}

// Hash returns the encoded hash of secret.
func (b *Bcrypt) Hash(secret string) (string, error) {
	sum, err := bcrypt.GenerateFromPassword(prehash(secret), b.cost)
	if err != nil {
		return "", err
	}
	return bcryptSHA256Prefix + string(sum), nil
}

// Verify reports whether secret matches encoded. A mismatch is (false, nil);
// an error means encoded is not a bcrypt hash.
func (b *Bcrypt) Verify(secret, encoded string) (bool, error) {
	input := []byte(secret)
	stored := encoded
	if rest, ok := strings.CutPrefix(encoded, bcryptSHA256Prefix); ok {
		input = prehash(secret)
		stored = rest
	}

	err := bcrypt.CompareHashAndPassword([]byte(stored), input)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		// Legacy hashes cannot match secrets bcrypt refuses to hash.
		return false, nil
	default:
		return false, err
	}
}

// NeedsUpgrade reports whether encoded should be replaced with a fresh hash:
// it is a legacy plain bcrypt hash or was produced with a lower cost.
func (b *Bcrypt) NeedsUpgrade(encoded string) (bool, error) {
	rest, ok := strings.CutPrefix(encoded, bcryptSHA256Prefix)
	if !ok {
		if _, err := bcrypt.Cost([]byte(encoded)); err != nil {
			return false, err
		}
		return true, nil
	}
	cost, err := bcrypt.Cost([]byte(rest))
	if err != nil {
		return false, err
	}
	return cost < b.cost, nil
}

// Recognizes reports whether encoded was produced by a bcrypt hasher.
func (b *Bcrypt) Recognizes(encoded string) bool {
	return strings.HasPrefix(encoded, bcryptSHA256Prefix) ||
		strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

func prehash(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}
