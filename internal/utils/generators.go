package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const refCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const refLength = 10

// GenerateBookingRef returns a 10 character uppercase alphanumeric booking
// reference. Uniqueness is enforced by the store; callers regenerate on
// conflict.
func GenerateBookingRef() string {
	var b strings.Builder
	b.Grow(refLength)
	max := big.NewInt(int64(len(refCharset)))
	for i := 0; i < refLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken;
			// fall back to a fixed index rather than panic mid-request.
			n = big.NewInt(int64(i % len(refCharset)))
		}
		b.WriteByte(refCharset[n.Int64()])
	}
	return b.String()
}

// JoinFlags flattens fraud flags into the single column the ledger stores.
func JoinFlags(flags []string) string {
	return strings.Join(flags, ",")
}
