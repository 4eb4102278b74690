package xid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	idLength = 20
)

// New returns a 20 character alphanumeric id. Ids are drawn from crypto/rand so
// registers can mint them offline without coordination.
func New() string {
	buf := make([]byte, idLength)
	limit := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return fmt.Sprintf("%020d", time.Now().UnixNano())[:idLength]
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf)
}
