package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var accessCodeSpan = big.NewInt(900000)

// NewAccessCode returns a random 6-digit code without a leading zero.
func NewAccessCode() string {
	n, err := rand.Int(rand.Reader, accessCodeSpan)
	if err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(fmt.Sprintf("read random access code: %v", err))
	}
	return fmt.Sprintf("%06d", 100000+n.Int64())
}

func validAccessCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
