package validation

import (
	"strings"
	"testing"
)

func TestSanitizeQuestion(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain question",
			input: "What is my attendance this term?",
			want:  "What is my attendance this term?",
		},
		{
			name:  "surrounding whitespace trimmed",
			input: "  how did Alice do in Math?\n",
			want:  "how did Alice do in Math?",
		},
		{
			name:  "null bytes stripped",
			input: "show my\x00 exam results",
			want:  "show my exam results",
		},
		{
			name:  "control characters stripped",
			input: "marks\x1b[31m for\x07 History",
			want:  "marks[31m for History",
		},
		{
			name:  "newlines and tabs kept",
			input: "two\nlines\there",
			want:  "two\nlines\there",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewSanitizer().SanitizeQuestion(tt.input)
			if err != nil {
				t.Fatalf("SanitizeQuestion: %v", err)
			}
			if got != tt.want {
				t.Errorf("SanitizeQuestion = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeQuestionRejections(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{
			name:    "empty",
			input:   "",
			wantMsg: "question is required",
		},
		{
			name:    "whitespace only",
			input:   " \t\n ",
			wantMsg: "question is required",
		},
		{
			name:    "control characters only",
			input:   "\x00\x07\x1b",
			wantMsg: "question is required",
		},
		{
			name:    "invalid utf8",
			input:   "attendance \xff\xfe report",
			wantMsg: "question is not valid UTF-8",
		},
		{
			name:    "too long",
			input:   strings.Repeat("a", MaxQuestionLength+1),
			wantMsg: "question too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSanitizer().SanitizeQuestion(tt.input)
			if err == nil {
				t.Fatal("SanitizeQuestion accepted invalid input")
			}
			qErr, ok := err.(*QuestionError)
			if !ok {
				t.Fatalf("error type = %T, want *QuestionError", err)
			}
			if qErr.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", qErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestSanitizeQuestionLengthIsRuneBased(t *testing.T) {
	// Multi-byte runes up to the limit must pass.
	q := strings.Repeat("å", MaxQuestionLength)
	got, err := NewSanitizer().SanitizeQuestion(q)
	if err != nil {
		t.Fatalf("SanitizeQuestion: %v", err)
	}
	if got != q {
		t.Error("multi-byte question modified")
	}
}
