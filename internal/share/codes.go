package share

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const (
	DefaultCodeLength = 6
	codeAlphabet      = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxCodeAttempts   = 16
)

// CodeGenerator produces short codes over an upper-case base-36 alphabet
type CodeGenerator struct {
	length int
	random io.Reader
}

// NewCodeGenerator creates a generator backed by crypto/rand
func NewCodeGenerator(length int) *CodeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return &CodeGenerator{length: length, random: rand.Reader}
}

// Next draws codes until taken reports one as free.
func (g *CodeGenerator) Next(taken func(code string) bool) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := g.draw()
		if err != nil {
			return "", err
		}
		if !taken(code) {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// Valid reports whether code, once canonicalized, could have been produced
// by this generator.
func (g *CodeGenerator) Valid(code string) bool {
	code = CanonicalCode(code)
	if len(code) != g.length {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

func (g *CodeGenerator) draw() (string, error) {
	b := make([]byte, g.length)
	letterCount := big.NewInt(int64(len(codeAlphabet)))

	for i := range b {
		n, err := rand.Int(g.random, letterCount)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}
