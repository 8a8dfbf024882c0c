// Package refcode generates and validates the short references handed out to
// customers and agents, e.g. T-251019-P9Q2.
//
// A reference is <Kind>-<YYMMDD>-<code>. The code is four characters drawn from
// an alphabet without 0/O and 1/I/L so it can be read out over the phone.
package refcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// Alphabet is the set of characters a code may contain.
const Alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const codeLength = 4

type Kind string

const (
	KindAgentTransaction Kind = "A"
	KindTopupRequest     Kind = "T"
)

var ErrInvalidReference = errors.New("invalid reference format")

var pattern = regexp.MustCompile(`^([AT])-([0-9]{6})-([` + Alphabet + `]{4})$`)

// New returns a fresh reference of the given kind dated at the supplied time.
func New(kind Kind, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s", kind, at.Format("060102"), randomCode(codeLength))
}

// Validate checks that id is a well-formed reference of the given kind.
// An empty kind accepts either kind.
func Validate(kind Kind, id string) error {
	m := pattern.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return ErrInvalidReference
	}
	if kind != "" && Kind(m[1]) != kind {
		return ErrInvalidReference
	}
	if _, err := time.Parse("060102", m[2]); err != nil {
		return ErrInvalidReference
	}
	return nil
}

// Normalize upper-cases and trims user-typed references before validation.
func Normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func randomCode(length int) string {
	max := big.NewInt(int64(len(Alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(fmt.Sprintf("refcode: random source failed: %v", err))
		}
		out[i] = Alphabet[n.Int64()]
	}
	return string(out)
}
