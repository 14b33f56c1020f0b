package panel

import "testing"

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Confidence
	}{
		{"exact high", "HIGH", ConfidenceHigh},
		{"exact medium", "MEDIUM", ConfidenceMedium},
		{"exact low", "LOW", ConfidenceLow},
		{"lowercase", "high", ConfidenceHigh},
		{"mixed case", "Low", ConfidenceLow},
		{"embedded", "my confidence is HIGH overall", ConfidenceHigh},
		{"abbreviated medium", "med", ConfidenceMedium},
		{"empty defaults to medium", "", ConfidenceMedium},
		{"garbage defaults to medium", "banana", ConfidenceMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseConfidence(tt.raw); got != tt.want {
				t.Errorf("ParseConfidence(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestConfidenceValid(t *testing.T) {
	for _, c := range []Confidence{ConfidenceHigh, ConfidenceMedium, ConfidenceLow} {
		if !c.Valid() {
			t.Errorf("%v should be valid", c)
		}
	}
	if Confidence("SHRUG").Valid() {
		t.Error("unknown confidence should be invalid")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"leading prose", `Sure! Here you go: {"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"nested", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"brace in string", `{"a":"}{"}`, `{"a":"}{"}`},
		{"escaped quote", `{"a":"say \"hi\""}`, `{"a":"say \"hi\""}`},
		{"trailing prose", `{"a":1} hope that helps`, `{"a":1}`},
		{"no object", "no json here", ""},
		{"unbalanced", `{"a":1`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.in); got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
