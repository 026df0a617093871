package aqgeval

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestFormatBLQAnswer(t *testing.T) {
	tests := []struct {
		raw  any
		want Answer
	}{
		{"True", BoolAnswer(true)},
		{" false ", BoolAnswer(false)},
		{"FALSE.", BoolAnswer(false)},
		{true, BoolAnswer(true)},
		{[]any{"False"}, BoolAnswer(false)},
		{[]any{}, Answer{}},
		{"maybe", Answer{}},
		{nil, Answer{}},
	}
	for _, tt := range tests {
		if got := FormatBLQAnswer(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("FormatBLQAnswer(%#v) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestFormatMCQAnswer(t *testing.T) {
	got := FormatMCQAnswer(" Samuel, Turing, Hinton, LeCun ")
	want := []string{"Samuel", "Turing", "Hinton", "LeCun"}
	if got.Kind != AnswerOptions || !reflect.DeepEqual(got.Options, want) {
		t.Errorf("Unexpected answer %+v", got)
	}

	got = FormatMCQAnswer([]any{"a", "b"})
	if !reflect.DeepEqual(got.Options, []string{"a", "b"}) {
		t.Errorf("Lists should pass through, got %+v", got)
	}
}

func TestFormatGFQAnswer(t *testing.T) {
	got := FormatGFQAnswer("IBM ,1959")
	if !reflect.DeepEqual(got.Options, []string{"IBM", "1959"}) {
		t.Errorf("Unexpected answer %+v", got)
	}
}

func TestFormatSAQAnswer(t *testing.T) {
	if got := FormatSAQAnswer([]any{"a", "b"}); got.Text != "a, b" {
		t.Errorf("Expected joined list, got %+v", got)
	}
	if got := FormatSAQAnswer(42); got.Text != "42" {
		t.Errorf("Expected number as text, got %+v", got)
	}
}

func TestAnswerString(t *testing.T) {
	tests := []struct {
		a    Answer
		want string
	}{
		{TextAnswer("x"), "x"},
		{OptionsAnswer([]string{"a", "b"}), "a, b"},
		{BoolAnswer(true), "True"},
		{BoolAnswer(false), "False"},
		{Answer{}, ""},
	}
	for _, tt := range tests {
		if got := tt.a.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.a, got, tt.want)
		}
	}
}

func TestAnswerJSONShapes(t *testing.T) {
	q := []Question{
		{Question: "q1", Answer: TextAnswer("<b>")},
		{Question: "q2", Answer: OptionsAnswer(nil)},
		{Question: "q3", Answer: BoolAnswer(false)},
		{Question: "q4"},
	}
	data, err := marshalNoEscape(q)
	if err != nil {
		t.Fatal(err)
	}
	want := `[{"question":"q1","answer":"<b>"},{"question":"q2","answer":[]},{"question":"q3","answer":false},{"question":"q4","answer":null}]`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}

	var back []Question
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back[2].Answer.Kind != AnswerBool || !back[3].Answer.IsUnset() || back[1].Answer.Kind != AnswerOptions {
		t.Errorf("Answer kinds lost on decode: %+v", back)
	}
}
