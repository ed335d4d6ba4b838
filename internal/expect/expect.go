// Package expect evaluates declarative expectation suites over JSONL record
// batches. A suite enumerates every violation in one pass; nothing is
// fail-fast. The rule vocabulary mirrors the column-level checks the
// upstream data contracts are written in: existence, non-null, regex,
// value sets, numeric ranges, uniqueness and timestamp parseability.
package expect

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/manganews/pipeline/internal/jsonl"
)

// Violation is one failed expectation for one record.
type Violation struct {
	RecordIndex int    `json:"record_index"`
	Field       string `json:"field"`
	Rule        string `json:"rule"`
	Observed    any    `json:"observed_value"`
}

// Expectation checks one column across a record batch.
type Expectation interface {
	// Field names the column under check.
	Field() string
	// Rule names the check for reports.
	Rule() string
	// Apply returns every violation found in records.
	Apply(records []jsonl.Record) []Violation
}

// Suite is an ordered set of expectations bound to a dataset.
type Suite struct {
	Name         string
	Expectations []Expectation
}

// Run evaluates every expectation and returns the violations ordered by
// record index, then by suite declaration order.
func (s Suite) Run(records []jsonl.Record) []Violation {
	var all []Violation
	for _, e := range s.Expectations {
		all = append(all, e.Apply(records)...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].RecordIndex < all[j].RecordIndex
	})
	return all
}

// perRecord adapts a single-record predicate into an Expectation.
// check returns (ok, observed).
type perRecord struct {
	field string
	rule  string
	check func(rec jsonl.Record) (bool, any)
}

func (p perRecord) Field() string { return p.field }
func (p perRecord) Rule() string  { return p.rule }

func (p perRecord) Apply(records []jsonl.Record) []Violation {
	var out []Violation
	for i, rec := range records {
		if ok, observed := p.check(rec); !ok {
			out = append(out, Violation{RecordIndex: i, Field: p.field, Rule: p.rule, Observed: observed})
		}
	}
	return out
}

// ColumnExists requires the field key to be present on every record.
func ColumnExists(field string) Expectation {
	return perRecord{field: field, rule: "column_exists", check: func(rec jsonl.Record) (bool, any) {
		_, ok := rec[field]
		return ok, nil
	}}
}

// NotBlank requires a present, non-null, non-whitespace value.
func NotBlank(field string) Expectation {
	return perRecord{field: field, rule: "not_blank", check: func(rec jsonl.Record) (bool, any) {
		v, ok := rec[field]
		if !ok || v == nil {
			return false, v
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return false, s
		}
		return true, nil
	}}
}

// MatchRegex requires non-null string values to match pattern.
// Absent or null values are not this rule's concern; pair with NotBlank.
func MatchRegex(field, pattern string) Expectation {
	re := regexp.MustCompile(pattern)
	return perRecord{field: field, rule: "match_regex " + pattern, check: func(rec jsonl.Record) (bool, any) {
		s, present := stringValue(rec, field)
		if !present {
			return true, nil
		}
		return re.MatchString(s), s
	}}
}

// InSet requires non-null values to be one of allowed.
func InSet(field string, allowed ...string) Expectation {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	rule := "in_set [" + strings.Join(allowed, ", ") + "]"
	return perRecord{field: field, rule: rule, check: func(rec jsonl.Record) (bool, any) {
		s, present := stringValue(rec, field)
		if !present {
			return true, nil
		}
		_, ok := set[s]
		return ok, s
	}}
}

// Between requires non-null numeric values to fall within [min, max].
// Non-numeric values violate the rule.
func Between(field string, lo, hi float64) Expectation {
	rule := fmt.Sprintf("between %v and %v", lo, hi)
	return perRecord{field: field, rule: rule, check: func(rec jsonl.Record) (bool, any) {
		v, ok := rec[field]
		if !ok || v == nil {
			return true, nil
		}
		f, numeric := numericValue(v)
		if !numeric {
			return false, v
		}
		return f >= lo && f <= hi, v
	}}
}

// TimestampParseable requires non-null values to parse as RFC 3339.
func TimestampParseable(field string) Expectation {
	return perRecord{field: field, rule: "timestamp_parseable", check: func(rec jsonl.Record) (bool, any) {
		s, present := stringValue(rec, field)
		if !present {
			return true, nil
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return false, s
		}
		return true, nil
	}}
}

// unique flags the second and later records sharing a non-null value.
type unique struct {
	fields []string
}

// Unique requires non-null values of field to be distinct across the batch.
func Unique(field string) Expectation {
	return unique{fields: []string{field}}
}

// CompoundUnique requires the tuple of fields to be distinct across records
// on which every component is present.
func CompoundUnique(fields ...string) Expectation {
	return unique{fields: fields}
}

func (u unique) Field() string { return strings.Join(u.fields, "+") }

func (u unique) Rule() string {
	if len(u.fields) > 1 {
		return "compound_unique"
	}
	return "unique"
}

func (u unique) Apply(records []jsonl.Record) []Violation {
	seen := make(map[string]struct{}, len(records))
	var out []Violation
	for i, rec := range records {
		parts := make([]string, 0, len(u.fields))
		complete := true
		for _, f := range u.fields {
			s, present := stringValue(rec, f)
			if !present {
				complete = false
				break
			}
			parts = append(parts, s)
		}
		if !complete {
			continue
		}
		key := strings.Join(parts, "\x1f")
		if _, dup := seen[key]; dup {
			out = append(out, Violation{
				RecordIndex: i,
				Field:       u.Field(),
				Rule:        u.Rule(),
				Observed:    strings.Join(parts, ", "),
			})
			continue
		}
		seen[key] = struct{}{}
	}
	return out
}

// stringValue renders a present, non-null scalar as a string for
// comparisons. Numbers keep their shortest decimal form.
func stringValue(rec jsonl.Record, field string) (string, bool) {
	v, ok := rec[field]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case json.Number:
		return t.String(), true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
