package combivox

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Permutation is a 1-based reordering of the eight login digits.
type Permutation [8]int

// Valid reports whether p holds each of 1..8 exactly once.
func (p Permutation) Valid() bool {
	var seen [9]bool
	for _, n := range p {
		if n < 1 || n > 8 || seen[n] {
			return false
		}
		seen[n] = true
	}
	return true
}

func (p Permutation) apply(s string) string {
	var sb strings.Builder
	for _, n := range p {
		sb.WriteByte(s[n-1])
	}
	return sb.String()
}

// Protocol holds the fixed constants of the web firmware login.
type Protocol struct {
	// Permutation scrambles the code before the random permutation is applied.
	Permutation Permutation
	Username    string
}

// DefaultProtocol returns the constants used by the Amica web firmware.
func DefaultProtocol() Protocol {
	return Protocol{
		Permutation: Permutation{2, 7, 6, 1, 4, 5, 8, 3},
		Username:    "admin",
	}
}

// Source is the randomness used to derive one-time passwords.
// *math/rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
	Perm(n int) []int
}

// Credential is a one-time password and its Basic token.
// It must not be reused: the panel rejects replays.
type Credential struct {
	Username string
	Password string
	Token    string
}

// NewCredential derives a fresh credential for the given access code.
func NewCredential(code string, proto Protocol, rnd Source) (Credential, error) {
	perm := rnd.Perm(8)
	if len(perm) != 8 {
		return Credential{}, fmt.Errorf("%w: random permutation has %d elements", ErrInvalidPermutation, len(perm))
	}
	var gen Permutation
	for i, n := range perm {
		gen[i] = n + 1
	}
	end := rnd.Intn(100)
	start := rnd.Intn(100)
	return deriveCredential(code, proto, gen, start, end)
}

func deriveCredential(code string, proto Protocol, gen Permutation, start, end int) (Credential, error) {
	if err := validateCode(code); err != nil {
		return Credential{}, err
	}
	if !proto.Permutation.Valid() {
		return Credential{}, fmt.Errorf("%w: %v", ErrInvalidPermutation, proto.Permutation)
	}
	if !gen.Valid() {
		return Credential{}, fmt.Errorf("%w: %v", ErrInvalidPermutation, gen)
	}
	if start < 0 || start > 99 || end < 0 || end > 99 {
		return Credential{}, fmt.Errorf("random values out of range: %d %d", start, end)
	}

	v1 := code + fmt.Sprintf("%02d", end)
	v3 := gen.apply(proto.Permutation.apply(v1))

	var v4 strings.Builder
	for _, n := range gen {
		v4.WriteString(strconv.Itoa(n - 1))
	}

	username := proto.Username
	if username == "" {
		username = DefaultProtocol().Username
	}
	password := fmt.Sprintf("%02d", start) + v3 + v4.String()
	return Credential{
		Username: username,
		Password: password,
		Token:    base64.StdEncoding.EncodeToString([]byte(username + ":" + password)),
	}, nil
}

func validateCode(code string) error {
	if len(code) < 6 {
		return fmt.Errorf("%w: must have at least 6 digits", ErrInvalidCode)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: must contain only digits", ErrInvalidCode)
		}
	}
	return nil
}
