package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamim/examforge/pkg/models"
)

var selectOptions = []string{"O(n)", "O(log n)", "O(n log n)", "O(1)"}

func TestCompareAnswer_SingleSelect(t *testing.T) {
	item := models.CandidateItem{Statement: "q", Type: models.ItemSingleSelect, Options: selectOptions, Answer: "B"}

	tests := []struct {
		name       string
		derivation models.Derivation
		valid      bool
		reason     string
	}{
		{name: "match", derivation: models.Derivation{CorrectOptions: []string{"B"}}, valid: true},
		{name: "match by text", derivation: models.Derivation{CorrectOptions: []string{"O(log n)"}}, valid: true},
		{name: "match from bare answer", derivation: models.Derivation{Answer: "option 2"}, valid: true},
		{name: "mismatch", derivation: models.Derivation{CorrectOptions: []string{"C"}}, reason: "stored answer is B but the correct option is C"},
		{name: "none correct", derivation: models.Derivation{CorrectOptions: []string{}}, reason: "no option is correct"},
		{name: "several correct", derivation: models.Derivation{CorrectOptions: []string{"A", "C"}}, reason: "multiple options are correct: A, C"},
		{name: "garbage", derivation: models.Derivation{CorrectOptions: []string{"Z"}}, reason: "does not name an option"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := CompareAnswer(item, tt.derivation)
			assert.Equal(t, tt.valid, v.Valid)
			if !tt.valid {
				assert.Contains(t, v.Reason, tt.reason)
			}
		})
	}
}

func TestCompareAnswer_SingleSelectStoredAnswer(t *testing.T) {
	d := models.Derivation{CorrectOptions: []string{"A"}}

	missing := models.CandidateItem{Type: models.ItemSingleSelect, Options: selectOptions}
	assert.False(t, CompareAnswer(missing, d).Valid)

	two := models.CandidateItem{Type: models.ItemSingleSelect, Options: selectOptions, Answer: "A,B"}
	v := CompareAnswer(two, d)
	assert.False(t, v.Valid)
	assert.Contains(t, v.Reason, "exactly one option")
}

func TestCompareAnswer_MultiSelect(t *testing.T) {
	item := models.CandidateItem{Type: models.ItemMultiSelect, Options: selectOptions, Answer: "A, C"}

	assert.True(t, CompareAnswer(item, models.Derivation{CorrectOptions: []string{"c", "a"}}).Valid)
	assert.True(t, CompareAnswer(item, models.Derivation{Answer: "A and C"}).Valid)

	v := CompareAnswer(item, models.Derivation{CorrectOptions: []string{"A"}})
	assert.False(t, v.Valid)
	assert.Equal(t, "stored answer is A,C but the correct options are A", v.Reason)

	v = CompareAnswer(item, models.Derivation{CorrectOptions: []string{}})
	assert.False(t, v.Valid)
	assert.Equal(t, "no option is correct", v.Reason)
}

func TestCompareAnswer_Numeric(t *testing.T) {
	tests := []struct {
		stored, derived string
		valid           bool
	}{
		{"42", "42", true},
		{"3.14", "3.1416", true},
		{"100", "102", false},
		{"2.5 to 3.5", "3", true},
		{"2.5..3.5", "3.5", true},
		{"2.5 to 3.5", "3.6", false},
		{"0", "0.0000000001", true},
		{"1,024", "1024 bytes", true},
		{"-5 to -2", "-3", true},
		{"abc", "3", false},
		{"3", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.stored+"/"+tt.derived, func(t *testing.T) {
			item := models.CandidateItem{Type: models.ItemNumeric, Answer: models.FlexString(tt.stored)}
			v := CompareAnswer(item, models.Derivation{Answer: models.FlexString(tt.derived)})
			assert.Equal(t, tt.valid, v.Valid, v.Reason)
			if !tt.valid {
				assert.NotEmpty(t, v.Reason)
			}
		})
	}
}

func TestCompareAnswer_OpenEndedAlwaysValid(t *testing.T) {
	item := models.CandidateItem{Type: models.ItemOpenEnded, Answer: "anything"}
	assert.True(t, CompareAnswer(item, models.Derivation{}).Valid)
	assert.True(t, CompareAnswer(item, models.Derivation{CorrectOptions: []string{}}).Valid)
}

func TestOptionLetters(t *testing.T) {
	opts := []string{"salt and pepper", "sugar", "flour", "oil"}

	got, err := OptionLetters("salt and pepper", opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, got)

	got, err = OptionLetters("(d); b", opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "D"}, got)

	got, err = OptionLetters("A C", opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, got)

	got, err = OptionLetters("", opts)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = OptionLetters("E", opts)
	assert.Error(t, err)
}

func TestParseNumericAnswer(t *testing.T) {
	lo, hi, err := ParseNumericAnswer("7.5 – 2.5")
	require.NoError(t, err)
	assert.Equal(t, 2.5, lo)
	assert.Equal(t, 7.5, hi)

	lo, hi, err = ParseNumericAnswer("approximately 9.81 m/s^2")
	require.NoError(t, err)
	assert.Equal(t, 9.81, lo)
	assert.Equal(t, lo, hi)
}
