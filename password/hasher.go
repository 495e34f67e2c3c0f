package password

import "errors"

// Algorithm names accepted by [New].
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// ErrUnknownFormat is returned by [Hasher.Verify] when no configured
// algorithm recognizes the stored hash.
var ErrUnknownFormat = errors.New("password: unrecognized hash format")

// Algo is one hashing algorithm.
type Algo interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) (bool, error)
	NeedsUpgrade(encoded string) (bool, error)
	Recognizes(encoded string) bool
}

// Hasher hashes with its primary algorithm and verifies against any
// algorithm it knows, so stored hashes survive an algorithm switch.
type Hasher struct {
	primary Algo
	others  []Algo
}

// NewHasher returns a Hasher that hashes with primary and also verifies
// hashes produced by others.
func NewHasher(primary Algo, others ...Algo) *Hasher {
	return &Hasher{primary: primary, others: others}
}

// New builds a Hasher for the named algorithm. bcryptCost applies to bcrypt
// hashing; argon2 uses params. Both algorithms are always available for
// verification.
func New(algorithm string, bcryptCost int, params Argon2Params) (*Hasher, error) {
	b, err := NewBcrypt(bcryptCost)
	if err != nil {
		return nil, err
	}
	a, err := NewArgon2(params)
	if err != nil {
		return nil, err
	}

	switch algorithm {
	case "", AlgorithmBcrypt:
		return NewHasher(b, a), nil
	case AlgorithmArgon2id:
		return NewHasher(a, b), nil
	default:
		return nil, errors.New("password: unknown algorithm " + algorithm)
	}
}

// Hash hashes secret with the primary algorithm.
func (h *Hasher) Hash(secret string) (string, error) {
	return h.primary.Hash(secret)
}

// Verify reports whether secret matches encoded. Mismatches are (false, nil).
func (h *Hasher) Verify(secret, encoded string) (bool, error) {
	algo := h.algoFor(encoded)
	if algo == nil {
		return false, ErrUnknownFormat
	}
	return algo.Verify(secret, encoded)
}

// NeedsRehash reports whether encoded should be replaced: it was produced
// by a non-primary algorithm or with weaker parameters.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if !h.primary.Recognizes(encoded) {
		return true
	}
	upgrade, err := h.primary.NeedsUpgrade(encoded)
	return err == nil && upgrade
}

func (h *Hasher) algoFor(encoded string) Algo {
	if h.primary.Recognizes(encoded) {
		return h.primary
	}
	for _, a := range h.others {
		if a.Recognizes(encoded) {
			return a
		}
	}
	return nil
}
