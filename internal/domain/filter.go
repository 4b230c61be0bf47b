package domain

// CompareOp is a comparison operator in a filter expression.
type CompareOp string

// Supported comparison operators.
const (
	OpEqual        CompareOp = "eq"
	OpNotEqual     CompareOp = "ne"
	OpGreater      CompareOp = "gt"
	OpGreaterEqual CompareOp = "gte"
	OpLess         CompareOp = "lt"
	OpLessEqual    CompareOp = "lte"
)

// ValueKind discriminates the typed value of an event field.
type ValueKind int

const (
	ValueNumber ValueKind = iota
	ValueText
)

// TypedValue is a typed value resolved from an event field.
type TypedValue struct {
	Kind   ValueKind
	Number float64
	Text   string
}

// NumberValue returns a numeric TypedValue.
func NumberValue(n float64) TypedValue { return TypedValue{Kind: ValueNumber, Number: n} }

// TextValue returns a textual TypedValue.
func TextValue(s string) TypedValue { return TypedValue{Kind: ValueText, Text: s} }

// Comparison compares one event field against a constant. Number is used
// when the referenced field is numeric, Text when it is textual.
type Comparison struct {
	Field  string    `json:"field"`
	Op     CompareOp `json:"op"`
	Number *float64  `json:"number,omitempty"`
	Text   *string   `json:"text,omitempty"`
}

// Filter is a boolean predicate over event fields, stored with the
// stream definition. Exactly one of the members is expected to be set;
// the zero Filter matches every event. Comparisons against fields absent
// from an event are non-matching, they never fail.
type Filter struct {
	All []Filter    `json:"all,omitempty"`
	Any []Filter    `json:"any,omitempty"`
	Not *Filter     `json:"not,omitempty"`
	Cmp *Comparison `json:"cmp,omitempty"`
}

// Evaluate applies the filter to the event.
func (f Filter) Evaluate(e *Event) bool {
	switch {
	case len(f.All) > 0:
		for _, sub := range f.All {
			if !sub.Evaluate(e) {
				return false
			}
		}
		return true
	case len(f.Any) > 0:
		for _, sub := range f.Any {
			if sub.Evaluate(e) {
				return true
			}
		}
		return false
	case f.Not != nil:
		return !f.Not.Evaluate(e)
	case f.Cmp != nil:
		return f.Cmp.evaluate(e)
	default:
		return true
	}
}

func (c *Comparison) evaluate(e *Event) bool {
	v, ok := e.Lookup(c.Field)
	if !ok {
		return false
	}
	switch v.Kind {
	case ValueNumber:
		if c.Number == nil {
			return false
		}
		return compareNumbers(v.Number, *c.Number, c.Op)
	case ValueText:
		if c.Text == nil {
			return false
		}
		return compareText(v.Text, *c.Text, c.Op)
	default:
		return false
	}
}

func compareNumbers(a, b float64, op CompareOp) bool {
	switch op {
	case OpEqual:
		return a == b
	case OpNotEqual:
		return a != b
	case OpGreater:
		return a > b
	case OpGreaterEqual:
		return a >= b
	case OpLess:
		return a < b
	case OpLessEqual:
		return a <= b
	default:
		return false
	}
}

func compareText(a, b string, op CompareOp) bool {
	switch op {
	case OpEqual:
		return a == b
	case OpNotEqual:
		return a != b
	case OpGreater:
		return a > b
	case OpGreaterEqual:
		return a >= b
	case OpLess:
		return a < b
	case OpLessEqual:
		return a <= b
	default:
		return false
	}
}
