// Package rayid generates request correlation identifiers.
//
// A ray id is the current Unix time in milliseconds followed by a fixed-length
// alphanumeric suffix, e.g. "1718000000000Ab3xYz09Qk".
package rayid

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strconv"
	"time"
)

const (
	// SuffixLen is the number of random characters after the timestamp.
	SuffixLen = 10

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var errInvalid = errors.New("invalid ray id")

// New returns a fresh ray id for the current time.
func New() (string, error) {
	return NewAt(time.Now())
}

// NewAt returns a fresh ray id using t as the timestamp part.
func NewAt(t time.Time) (string, error) {
	suffix, err := randomSuffix(SuffixLen)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(t.UnixMilli(), 10) + suffix, nil
}

// Validate checks the timestamp+suffix shape.
func Validate(id string) error {
	if len(id) <= SuffixLen {
		return errInvalid
	}
	ts := id[:len(id)-SuffixLen]
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		return errInvalid
	}
	for i := len(id) - SuffixLen; i < len(id); i++ {
		c := id[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return errInvalid
		}
	}
	return nil
}

func randomSuffix(n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[v.Int64()]
	}
	return string(b), nil
}
