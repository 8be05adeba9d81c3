package auth

import (
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is deliberately above the library default; password hashing
// is the one place slow is correct.
var bcryptCost = 12

var (
	lowercaseRegex = regexp.MustCompile(`[a-z]`)
	uppercaseRegex = regexp.MustCompile(`[A-Z]`)
	digitRegex     = regexp.MustCompile(`[0-9]`)
	symbolRegex    = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>/?]`)
)

var commonPatterns = []string{"password", "123", "qwerty", "abc", "admin"}

var sequentialRuns = []string{
	"abc", "bcd", "cde", "def", "efg", "fgh", "ghi", "hij", "ijk", "jkl",
	"klm", "lmn", "mno", "nop", "opq", "pqr", "qrs", "rst", "stu", "tuv",
	"uvw", "vwx", "wxy", "xyz", "012", "123", "234", "345", "456", "567",
	"678", "789",
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// StrengthChecks records which of the eight scoring rules a password passed.
type StrengthChecks struct {
	Length           bool `json:"length"`
	Lowercase        bool `json:"lowercase"`
	Uppercase        bool `json:"uppercase"`
	Numbers          bool `json:"numbers"`
	Symbols          bool `json:"symbols"`
	NoCommonPatterns bool `json:"noCommonPatterns"`
	NoRepeatingChars bool `json:"noRepeatingChars"`
	NoSequential     bool `json:"noSequentialChars"`
}

// PasswordStrength scores a password 0..8, one point per passed check.
func PasswordStrength(password string) (int, StrengthChecks) {
	lower := strings.ToLower(password)

	checks := StrengthChecks{
		Length:           len(password) >= 8,
		Lowercase:        lowercaseRegex.MatchString(password),
		Uppercase:        uppercaseRegex.MatchString(password),
		Numbers:          digitRegex.MatchString(password),
		Symbols:          symbolRegex.MatchString(password),
		NoCommonPatterns: !containsAny(lower, commonPatterns),
		NoRepeatingChars: !hasRepeatedRun(password, 3),
		NoSequential:     !containsAny(lower, sequentialRuns),
	}

	score := 0
	for _, passed := range []bool{
		checks.Length, checks.Lowercase, checks.Uppercase, checks.Numbers,
		checks.Symbols, checks.NoCommonPatterns, checks.NoRepeatingChars,
		checks.NoSequential,
	} {
		if passed {
			score++
		}
	}

	return score, checks
}

// hasRepeatedRun reports whether any rune appears `length` or more times
// in a row. RE2 has no backreferences, so this is done by hand.
func hasRepeatedRun(value string, length int) bool {
	run := 0
	var prev rune
	for i, r := range value {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= length {
			return true
		}
		prev = r
	}
	return false
}

func containsAny(value string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}
	return false
}

// ValidatePassword enforces the registration/reset password rules and
// returns the first violated rule's message.
func ValidatePassword(password string) *FieldError {
	if len(password) < 8 {
		return &FieldError{Field: "password", Message: "Password must be at least 8 characters"}
	}
	if len(password) > 128 {
		return &FieldError{Field: "password", Message: "Password must be 8-128 characters"}
	}
	if !lowercaseRegex.MatchString(password) || !uppercaseRegex.MatchString(password) || !digitRegex.MatchString(password) {
		return &FieldError{
			Field:   "password",
			Message: "Password must contain at least one lowercase letter, one uppercase letter, and one number",
		}
	}
	return nil
}

// IsPasswordReused reports whether the candidate matches any stored hash.
// Comparison goes through bcrypt verification since salts differ per hash.
func IsPasswordReused(password string, history []string, limit int) bool {
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	for _, oldHash := range history {
		if VerifyPassword(oldHash, password) {
			return true
		}
	}
	return false
}

// PrependPasswordHistory pushes the newest hash onto the history and
// keeps only the most recent `limit` entries.
func PrependPasswordHistory(history []string, newHash string, limit int) []string {
	updated := make([]string, 0, limit)
	updated = append(updated, newHash)
	for _, h := range history {
		if len(updated) >= limit {
			break
		}
		updated = append(updated, h)
	}
	return updated
}
