package crypto

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

const (
	idAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
	idRandomLen = 9
)

// NewID returns a record identifier made of idRandomLen random base36
// characters followed by the current Unix millisecond time in base36.
// It is not guaranteed unique; callers check for collisions.
func NewID() (string, error) {
	return newIDAt(time.Now())
}

func newIDAt(now time.Time) (string, error) {
	result := make([]byte, idRandomLen)
	for i := range result {
		ch, err := randChar(idAlphabet)
		if err != nil {
			return "", err
		}
		result[i] = ch
	}
	return string(result) + strconv.FormatInt(now.UnixMilli(), 36), nil
}

// randChar picks a random character from charset using crypto/rand.
func randChar(charset string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
	if err != nil {
		return 0, err
	}
	return charset[n.Int64()], nil
}
