package purge

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/apple/pkl-go/pkl"
)

// DefaultPrincipalThreshold is the highest identifier treated as a system
// principal when protection is enabled without an explicit limit.
const DefaultPrincipalThreshold = 500

// IdentifierSet is a set of numeric identifiers built from scalars,
// inclusive ranges and unions of both.
type IdentifierSet interface {
	Contains(id int) bool
	String() string
}

// Scalar matches exactly one identifier.
type Scalar int

func (s Scalar) Contains(id int) bool { return int(s) == id }
func (s Scalar) String() string       { return strconv.Itoa(int(s)) }

// Range matches identifiers between Lo and Hi, both inclusive.
type Range struct {
	Lo, Hi int
}

func (r Range) Contains(id int) bool { return id >= r.Lo && id <= r.Hi }
func (r Range) String() string       { return fmt.Sprintf("%d..%d", r.Lo, r.Hi) }

// SteppedRange matches Lo, Lo+Step, ... up to Hi.
type SteppedRange struct {
	Lo, Hi, Step int
}

func (r SteppedRange) Contains(id int) bool {
	return id >= r.Lo && id <= r.Hi && (id-r.Lo)%r.Step == 0
}

func (r SteppedRange) String() string {
	return fmt.Sprintf("%d..%d/%d", r.Lo, r.Hi, r.Step)
}

// Union matches an identifier contained in any member.
type Union []IdentifierSet

func (u Union) Contains(id int) bool {
	for _, m := range u {
		if m.Contains(id) {
			return true
		}
	}
	return false
}

func (u Union) String() string {
	parts := make([]string, len(u))
	for i, m := range u {
		parts[i] = m.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ParseIdentifierSet converts a loosely typed configuration value into an
// IdentifierSet. It accepts integers, numeric strings, "a..b" ranges,
// comma separated lists optionally wrapped in brackets, Pkl IntSeq values
// and listings mixing any of these. A nil value yields a nil set.
func ParseIdentifierSet(v any) (IdentifierSet, error) {
	if v == nil {
		return nil, nil
	}
	set, err := parseMember(v)
	if err != nil {
		return nil, fmt.Errorf("%w: unlessIdentifier: %v", ErrInvalidExclusionConfig, err)
	}
	return set, nil
}

func parseMember(v any) (IdentifierSet, error) {
	if n, ok := toInt(v); ok {
		if n < 0 {
			return nil, fmt.Errorf("negative identifier %d", n)
		}
		return Scalar(n), nil
	}

	switch val := v.(type) {
	case string:
		return parseString(val)
	case pkl.IntSeq:
		return parseIntSeq(val)
	case *pkl.IntSeq:
		if val == nil {
			return nil, fmt.Errorf("nil IntSeq")
		}
		return parseIntSeq(*val)
	case Range:
		return newRange(val.Lo, val.Hi)
	case []any:
		return parseList(len(val), func(i int) any { return val[i] })
	case []int:
		return parseList(len(val), func(i int) any { return val[i] })
	case []string:
		return parseList(len(val), func(i int) any { return val[i] })
	}
	return nil, fmt.Errorf("unsupported value %v (%T)", v, v)
}

func parseList(n int, at func(int) any) (IdentifierSet, error) {
	if n == 0 {
		return nil, fmt.Errorf("empty list")
	}
	union := make(Union, 0, n)
	for i := 0; i < n; i++ {
		m, err := parseMember(at(i))
		if err != nil {
			return nil, err
		}
		union = append(union, m)
	}
	if len(union) == 1 {
		return union[0], nil
	}
	return union, nil
}

func parseString(s string) (IdentifierSet, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty identifier expression")
	}

	fields := strings.Split(s, ",")
	union := make(Union, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if lo, hi, ok := strings.Cut(f, ".."); ok {
			l, err := parseNonNegative(lo)
			if err != nil {
				return nil, err
			}
			h, err := parseNonNegative(hi)
			if err != nil {
				return nil, err
			}
			r, err := newRange(l, h)
			if err != nil {
				return nil, err
			}
			union = append(union, r)
			continue
		}
		n, err := parseNonNegative(f)
		if err != nil {
			return nil, err
		}
		union = append(union, Scalar(n))
	}
	if len(union) == 1 {
		return union[0], nil
	}
	return union, nil
}

func parseIntSeq(seq pkl.IntSeq) (IdentifierSet, error) {
	switch {
	case seq.Step == 1:
		return newRange(seq.Start, seq.End)
	case seq.Step > 1:
		if _, err := newRange(seq.Start, seq.End); err != nil {
			return nil, fmt.Errorf("invalid IntSeq(%d, %d).step(%d): %v", seq.Start, seq.End, seq.Step, err)
		}
		return SteppedRange{Lo: seq.Start, Hi: seq.End, Step: seq.Step}, nil
	}
	return nil, fmt.Errorf("IntSeq step %d is not supported", seq.Step)
}

func newRange(lo, hi int) (IdentifierSet, error) {
	if lo < 0 || hi < 0 {
		return nil, fmt.Errorf("negative bound in range %d..%d", lo, hi)
	}
	if lo > hi {
		return nil, fmt.Errorf("range %d..%d is empty", lo, hi)
	}
	return Range{Lo: lo, Hi: hi}, nil
}

func parseNonNegative(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative identifier %d", n)
	}
	return n, nil
}

// Threshold protects identifiers less than or equal to Value when Enabled.
type Threshold struct {
	Enabled bool
	Value   int
}

// Protects reports whether id falls under the threshold.
func (t Threshold) Protects(id int) bool {
	return t.Enabled && id <= t.Value
}

// ParseThreshold interprets an unlessSystemPrincipal value. True selects
// DefaultPrincipalThreshold, false disables the threshold, numbers set it
// explicitly. An unset value defaults to DefaultPrincipalThreshold on
// identity-protected types and to no threshold elsewhere.
func ParseThreshold(v any, identityProtected bool) (Threshold, error) {
	if v == nil {
		if identityProtected {
			return Threshold{Enabled: true, Value: DefaultPrincipalThreshold}, nil
		}
		return Threshold{}, nil
	}

	if n, ok := toInt(v); ok {
		if n < 0 {
			return Threshold{}, fmt.Errorf("%w: unlessSystemPrincipal: negative threshold %d", ErrInvalidExclusionConfig, n)
		}
		return Threshold{Enabled: true, Value: n}, nil
	}

	switch val := v.(type) {
	case bool:
		if val {
			return Threshold{Enabled: true, Value: DefaultPrincipalThreshold}, nil
		}
		return Threshold{}, nil
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		switch s {
		case "true":
			return Threshold{Enabled: true, Value: DefaultPrincipalThreshold}, nil
		case "false":
			return Threshold{}, nil
		}
		n, err := parseNonNegative(s)
		if err != nil {
			return Threshold{}, fmt.Errorf("%w: unlessSystemPrincipal: %v", ErrInvalidExclusionConfig, err)
		}
		return Threshold{Enabled: true, Value: n}, nil
	}
	return Threshold{}, fmt.Errorf("%w: unlessSystemPrincipal: unsupported value %v (%T)", ErrInvalidExclusionConfig, v, v)
}

// toInt converts the numeric kinds produced by the Pkl decoder.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > uint64(math.MaxInt) {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
