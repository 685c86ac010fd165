// Package ipv6 parses textual IPv6 addresses into a fixed 16-byte canonical
// form. Two spellings of the same address (compressed "::" vs fully expanded,
// any letter case) always produce identical bytes, so byte equality on keys
// is address equality.
package ipv6

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// KeyLen is the size of a canonical key in bytes.
const KeyLen = 16

// Key is the canonical binary form of one IPv6 address: eight 16-bit groups
// packed big-endian. Ordering and equality are plain byte comparison.
type Key [KeyLen]byte

// Compare returns -1, 0 or 1 ordering k against other byte-lexicographically.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k[:], other[:])
}

// String renders the fully expanded lower-case form, e.g.
// "2001:0db8:0000:0000:0000:0000:0000:0001".
func (k Key) String() string {
	var sb strings.Builder
	for i := 0; i < KeyLen; i += 2 {
		if i > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%04x", binary.BigEndian.Uint16(k[i:]))
	}
	return sb.String()
}

// ParseError reports a line that could not be parsed as an IPv6 address.
// It is the only recoverable error in the pipeline: callers skip the line
// and keep going.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid IPv6 address %q: %s", e.Line, e.Reason)
}

// ParseKey converts one textual IPv6 address into its canonical key.
// Accepted forms are the fully expanded eight colon-separated hex groups and
// the compressed form with exactly one "::" standing for one or more
// consecutive zero groups. Letter case and leading zeros in a group are
// insignificant. Failures return a *ParseError carrying the offending line.
func ParseKey(addr string) (Key, error) {
	var key Key

	s := strings.ToLower(strings.TrimSpace(addr))

	var groups []string
	if strings.Contains(s, "::") {
		parts := strings.Split(s, "::")
		if len(parts) != 2 {
			return key, &ParseError{Line: addr, Reason: "more than one \"::\""}
		}

		var left, right []string
		if parts[0] != "" {
			left = strings.Split(parts[0], ":")
		}
		if parts[1] != "" {
			right = strings.Split(parts[1], ":")
		}

		missing := 8 - len(left) - len(right)
		if missing < 0 {
			return key, &ParseError{Line: addr, Reason: "too many groups in compressed form"}
		}

		groups = make([]string, 0, 8)
		groups = append(groups, left...)
		for i := 0; i < missing; i++ {
			groups = append(groups, "0")
		}
		groups = append(groups, right...)
	} else {
		groups = strings.Split(s, ":")
		if len(groups) != 8 {
			return key, &ParseError{Line: addr, Reason: fmt.Sprintf("expected 8 groups, got %d", len(groups))}
		}
	}

	for i, g := range groups {
		v, err := parseGroup(g)
		if err != nil {
			return key, &ParseError{Line: addr, Reason: fmt.Sprintf("group %q is not a 16-bit hex value", g)}
		}
		binary.BigEndian.PutUint16(key[2*i:], v)
	}

	return key, nil
}

// parseGroup parses one hex group. An empty group counts as zero, matching
// the treatment of groups elided by "::".
func parseGroup(g string) (uint16, error) {
	if g == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(g, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
