// Package random draws one-time codes, device tokens and session ids from
// crypto/rand.
package random

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"

	"github.com/google/uuid"
)

// Code returns a numeric code of exactly digits digits, drawn uniformly from
// [10^(digits-1), 10^digits - 1]. The leading digit is never zero.
func Code(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("random: code digits must be within [4, 10]")
	}

	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits-1)), nil)
	span := new(big.Int).Mul(low, big.NewInt(9))

	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Add(n, low).Int64(), 10), nil
}

// TokenHex returns n random bytes, hex encoded.
func TokenHex(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("random: token size must be > 0")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// SessionID returns a fresh session identifier. It is carried in the sid
// claim and survives refresh rotation.
func SessionID() string {
	return uuid.NewString()
}
