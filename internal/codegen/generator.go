package codegen

import (
	"errors"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// Alphabet is the character set for join and watch codes.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	JoinCodeLength    = 6
	WatchCodePrefix   = "WATCH"
	WatchSuffixLength = 3

	DefaultMaxAttempts = 64
)

// ErrCodeSpaceExhausted is returned when no free code was found within the
// attempt budget.
var ErrCodeSpaceExhausted = errors.New("codegen: no free code found")

// Generator produces human-shareable room codes. It holds no state about
// issued codes; collision checks go through the taken callback, which the
// caller evaluates against live registry state under its own lock.
type Generator struct {
	maxAttempts int
	random      func(alphabet string, size int) (string, error)
}

// New returns a Generator that gives up after maxAttempts collisions.
func New(maxAttempts int) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{
		maxAttempts: maxAttempts,
		random:      gonanoid.Generate,
	}
}

// NewWithRandom is New with a custom source of random strings.
func NewWithRandom(maxAttempts int, random func(alphabet string, size int) (string, error)) *Generator {
	g := New(maxAttempts)
	if random != nil {
		g.random = random
	}
	return g
}

// GenerateJoinCode returns a 6-character code for which taken reports false.
func (g *Generator) GenerateJoinCode(taken func(string) bool) (string, error) {
	return g.generate("", JoinCodeLength, taken)
}

// GenerateWatchCode returns "WATCH" plus 3 characters, for which taken reports false.
func (g *Generator) GenerateWatchCode(taken func(string) bool) (string, error) {
	return g.generate(WatchCodePrefix, WatchSuffixLength, taken)
}

func (g *Generator) generate(prefix string, size int, taken func(string) bool) (string, error) {
	for i := 0; i < g.maxAttempts; i++ {
		suffix, err := g.random(Alphabet, size)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		code := prefix + suffix
		if taken == nil || !taken(code) {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, g.maxAttempts)
}

// Normalize canonicalizes a user-supplied code for lookup.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidJoinCode reports whether code, after normalization, has join-code shape.
func ValidJoinCode(code string) bool {
	code = Normalize(code)
	if len(code) != JoinCodeLength {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(Alphabet, c) {
			return false
		}
	}
	return true
}
