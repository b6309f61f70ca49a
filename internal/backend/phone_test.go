package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"bare 10-digit mobile", "9876543210", "+919876543210"},
		{"with country code no plus", "919876543210", "+919876543210"},
		{"full e164", "+919876543210", "+919876543210"},
		{"spaces and dashes", "+91 98765-43210", "+919876543210"},
		{"parentheses and dots", "(987) 654.3210", "+919876543210"},
		{"leading whitespace", "  9876543210", "+919876543210"},
		{"landline-like not prefixed", "0226543210", "+0226543210"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePhone(tt.input))
		})
	}
}

func TestNormalizePhoneIdempotent(t *testing.T) {
	inputs := []string{
		"9876543210",
		"919876543210",
		"+919876543210",
		"+91 98765 43210",
		"98-76-54-32-10",
		"0226543210",
		"",
	}
	for _, in := range inputs {
		once := NormalizePhone(in)
		assert.Equal(t, once, NormalizePhone(once), "normalize(normalize(%q))", in)
	}
}

func TestSamePhoneAcrossFormats(t *testing.T) {
	assert.True(t, SamePhone("9876543210", "+919876543210"))
	assert.True(t, SamePhone("919876543210", "9876543210"))
	assert.True(t, SamePhone("+91 98765-43210", "919876543210"))
	assert.False(t, SamePhone("9876543210", "9876543211"))
}
