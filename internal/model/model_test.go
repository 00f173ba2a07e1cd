package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		want     error
	}{
		{"Secret12", nil},
		{"Sh0rt", ErrPasswordTooShort},
		{"abcdef", ErrPasswordTooShort},
		{"lowercase1", ErrPasswordNoUpper},
		{"NoDigitsHere", ErrPasswordNoDigit},
		{"ÄÖÜabcd9", nil},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidatePassword(tt.password))
		})
	}
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("ada@example.com"))
	assert.ErrorIs(t, ValidateEmail("not-an-email"), ErrInvalidEmail)
	assert.ErrorIs(t, ValidateEmail("Ada <ada@example.com>"), ErrInvalidEmail)
	assert.Equal(t, "ada@example.com", NormalizeEmail("  Ada@Example.COM "))
	assert.Equal(t, "ada", DefaultDisplayName("ada@example.com"))
}

func TestParseTone(t *testing.T) {
	tone, err := ParseTone("")
	require.NoError(t, err)
	assert.Equal(t, ToneProfessional, tone)

	tone, err = ParseTone(" Sales ")
	require.NoError(t, err)
	assert.Equal(t, ToneSales, tone)

	_, err = ParseTone("witty")
	assert.Error(t, err)

	for _, tn := range Tones {
		assert.NotEmpty(t, tn.Description(), string(tn))
	}
}

func TestParseToolType(t *testing.T) {
	tt, err := ParseToolType("SEO")
	require.NoError(t, err)
	assert.Equal(t, ToolSEO, tt)

	_, err = ParseToolType("all")
	assert.Error(t, err)
}

func TestHistoryItemMatches(t *testing.T) {
	item := HistoryItem{Input: "Topic: Coffee beans", Output: "Wake Up To Better Mornings"}

	assert.True(t, item.Matches(""))
	assert.True(t, item.Matches("coffee"))
	assert.True(t, item.Matches("BETTER"))
	assert.False(t, item.Matches("tea"))
}

func TestHistoryItemToneValue(t *testing.T) {
	tone := "casual"
	assert.Equal(t, "casual", HistoryItem{Tone: &tone}.ToneValue())
	assert.Equal(t, "", HistoryItem{}.ToneValue())
}
