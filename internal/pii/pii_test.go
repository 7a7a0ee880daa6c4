package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind_EmailAndPhone(t *testing.T) {
	text := "Contact me at jane@example.com or 555-123-4567"
	matches := NewDetector().Find(text)
	require.Len(t, matches, 2)

	assert.Equal(t, TypeEmail, matches[0].Type)
	assert.Equal(t, "jane@example.com", matches[0].Text)
	assert.Equal(t, text[matches[0].Start:matches[0].End], matches[0].Text)

	assert.Equal(t, TypePhone, matches[1].Type)
	assert.Equal(t, "555-123-4567", matches[1].Text)
}

func TestFind_Types(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Type
	}{
		{"ssn", "my ssn is 123-45-6789 ok", TypeSSN},
		{"visa", "card 4111111111111111 please", TypeCreditCard},
		{"grouped card", "card 4111 1111 1111 1111 please", TypeCreditCard},
		{"phone with parens", "call (555) 123-4567 now", TypePhone},
		{"international phone", "call +1 555 123 4567 now", TypePhone},
		{"address", "ship it to 42 Wallaby Way tomorrow", TypeAddress},
		{"address abbreviation", "I live at 1600 Pennsylvania Ave.", TypeAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := NewDetector().Find(tt.text)
			require.Len(t, matches, 1, "matches: %+v", matches)
			assert.Equal(t, tt.want, matches[0].Type)
		})
	}
}

func TestFind_NoPII(t *testing.T) {
	assert.Empty(t, NewDetector().Find("The order shipped yesterday and should arrive soon."))
	assert.Empty(t, NewDetector().Find(""))
}

func TestFind_CardBeatsEmbeddedPhone(t *testing.T) {
	// The trailing ten digits of a card number also look like a phone number.
	matches := NewDetector().Find("4111111111111111")
	require.Len(t, matches, 1)
	assert.Equal(t, TypeCreditCard, matches[0].Type)
}

func TestNewDetector_Subset(t *testing.T) {
	d := NewDetector(TypeEmail)
	matches := d.Find("jane@example.com 555-123-4567")
	require.Len(t, matches, 1)
	assert.Equal(t, TypeEmail, matches[0].Type)
}

func TestSanitize(t *testing.T) {
	text := "Contact me at jane@example.com or 555-123-4567"
	got := Sanitize(text, NewDetector().Find(text))
	assert.Equal(t, "Contact me at [EMAIL] or [PHONE]", got)
}

func TestSanitize_NoMatches(t *testing.T) {
	assert.Equal(t, "hello", Sanitize("hello", nil))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "ssn [SSN], card [CREDIT_CARD]", Redact("ssn 123-45-6789, card 5500000000000004"))
}

func TestValidType(t *testing.T) {
	for _, typ := range AllTypes() {
		assert.True(t, ValidType(typ))
	}
	assert.False(t, ValidType("passport"))
}
