package app

import (
	"crypto/rand"
	"math/big"
)

// joinCodeCharset omits glyphs that are easy to mistype on a phone (0/O, 1/I/L).
const joinCodeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const defaultJoinCodeLength = 6

// newJoinCode returns a random human-enterable code. Uniqueness is enforced by
// the store when the session is created, not here.
func newJoinCode(length int) string {
	if length <= 0 {
		length = defaultJoinCodeLength
	}
	max := big.NewInt(int64(len(joinCodeCharset)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic(err)
		}
		code[i] = joinCodeCharset[n.Int64()]
	}
	return string(code)
}
