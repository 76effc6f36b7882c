// Package mask assigns enumerated role labels ("Accused 1", "Witness 2")
// used to replace subject names in redacted documents.
package mask

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// ErrInvalidMask is returned when an existing mask does not end in a number.
var ErrInvalidMask = errors.New("invalid mask")

var (
	maskPattern = regexp.MustCompile(`^(.+?)\s+(\d+)$`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// RoleEnumerator hands out the next free label for each role. Roles that
// differ only in case or whitespace share a counter.
type RoleEnumerator struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewRoleEnumerator seeds the counters with the highest number already used
// for each role, so "Accused 100" makes the next accused "Accused 101".
func NewRoleEnumerator(existing ...string) (*RoleEnumerator, error) {
	e := &RoleEnumerator{counters: make(map[string]int)}
	for _, m := range existing {
		role, n, err := parseMask(m)
		if err != nil {
			return nil, err
		}
		k := key(role)
		if n > e.counters[k] {
			e.counters[k] = n
		}
	}
	return e, nil
}

// Next returns the next label for role.
func (e *RoleEnumerator) Next(role string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := key(role)
	e.counters[k]++
	return fmt.Sprintf("%s %d", label(role), e.counters[k])
}

func parseMask(m string) (string, int, error) {
	match := maskPattern.FindStringSubmatch(m)
	if match == nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidMask, m)
	}
	n, err := strconv.Atoi(match[2])
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidMask, m)
	}
	return match[1], n, nil
}

func key(role string) string {
	return whitespace.ReplaceAllString(strings.ToLower(role), "")
}

// label title-cases each word: a letter is upper-cased when it follows a
// non-letter and lower-cased otherwise.
func label(role string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range strings.TrimSpace(role) {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}
