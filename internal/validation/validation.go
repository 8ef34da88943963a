// Package validation checks names that end up inside topics.
package validation

import (
	"fmt"
	"strings"
	"unicode"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for a single topic segment.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// SegmentRules returns the rules for a topic segment such as an SNMP
// target or object name.
func SegmentRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateSegment validates a topic segment with SegmentRules.
func ValidateSegment(name string) error {
	return ValidateName(name, SegmentRules())
}

// =============================================================================
// Topic Validation
// =============================================================================

// MaxTopicLength bounds a whole topic.
const MaxTopicLength = 1024

// ValidateTopic checks a configured topic: non-empty, bounded, no control
// characters, and no empty segment between '/' separators.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if len(topic) > MaxTopicLength {
		return fmt.Errorf("topic too long: maximum %d characters allowed", MaxTopicLength)
	}
	for i, r := range topic {
		if r < 32 || r == 127 {
			return fmt.Errorf("topic cannot contain control characters at position %d", i)
		}
	}
	for i, seg := range strings.Split(topic, "/") {
		if seg == "" {
			return fmt.Errorf("topic has an empty segment at index %d", i)
		}
	}
	return nil
}

// =============================================================================
// OID Validation
// =============================================================================

// ValidateOID checks a numeric dotted OID such as "1.3.6.1.2.1.1.5.0". A
// leading dot is accepted.
func ValidateOID(oid string) error {
	s := strings.TrimPrefix(oid, ".")
	if s == "" {
		return fmt.Errorf("OID cannot be empty")
	}
	arcs := strings.Split(s, ".")
	if len(arcs) < 2 {
		return fmt.Errorf("OID %q needs at least two arcs", oid)
	}
	for i, arc := range arcs {
		if arc == "" {
			return fmt.Errorf("OID %q has an empty arc at index %d", oid, i)
		}
		for _, r := range arc {
			if r < '0' || r > '9' {
				return fmt.Errorf("OID %q has a non-numeric arc %q", oid, arc)
			}
		}
	}
	return nil
}
