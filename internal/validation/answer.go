package validation

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/lamim/examforge/pkg/models"
)

// NumericTolerance is the relative difference under which two numeric answers agree
const NumericTolerance = 0.01

var (
	answerSplitRegex = regexp.MustCompile(`\s*(?:[,;/&]|\band\b)\s*`)
	rangeRegex       = regexp.MustCompile(`^\s*(-?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)\s*(?:to|\.\.|–)\s*(-?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)\s*$`)
	numberRegex      = regexp.MustCompile(`-?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?`)
)

// CompareAnswer checks a stored item against an independent derivation.
// Open-ended items are always valid since there is nothing to compare.
func CompareAnswer(item models.CandidateItem, d models.Derivation) models.Verdict {
	switch item.Type {
	case models.ItemSingleSelect:
		return compareSingle(item, d)
	case models.ItemMultiSelect:
		return compareMulti(item, d)
	case models.ItemNumeric:
		return compareNumeric(item, d)
	default:
		return models.Verdict{Valid: true}
	}
}

func compareSingle(item models.CandidateItem, d models.Derivation) models.Verdict {
	derived, err := derivedLetters(item, d)
	if err != nil {
		return reject("%v", err)
	}
	switch len(derived) {
	case 0:
		return reject("no option is correct")
	case 1:
	default:
		return reject("multiple options are correct: %s", strings.Join(derived, ", "))
	}

	stored, err := OptionLetters(item.Answer.String(), item.Options)
	if err != nil {
		return reject("stored answer: %v", err)
	}
	if len(stored) != 1 {
		return reject("stored answer must name exactly one option, got %q", item.Answer)
	}
	if stored[0] != derived[0] {
		return reject("stored answer is %s but the correct option is %s", stored[0], derived[0])
	}
	return models.Verdict{Valid: true}
}

func compareMulti(item models.CandidateItem, d models.Derivation) models.Verdict {
	derived, err := derivedLetters(item, d)
	if err != nil {
		return reject("%v", err)
	}
	if len(derived) == 0 {
		return reject("no option is correct")
	}

	stored, err := OptionLetters(item.Answer.String(), item.Options)
	if err != nil {
		return reject("stored answer: %v", err)
	}
	if len(stored) == 0 {
		return reject("stored answer is missing")
	}
	if !slices.Equal(stored, derived) {
		return reject("stored answer is %s but the correct options are %s",
			strings.Join(stored, ","), strings.Join(derived, ","))
	}
	return models.Verdict{Valid: true}
}

func compareNumeric(item models.CandidateItem, d models.Derivation) models.Verdict {
	lo, hi, err := ParseNumericAnswer(item.Answer.String())
	if err != nil {
		return reject("stored answer: %v", err)
	}
	got, _, err := ParseNumericAnswer(d.Answer.String())
	if err != nil {
		return reject("derived answer: %v", err)
	}

	if lo != hi {
		if got >= lo && got <= hi {
			return models.Verdict{Valid: true}
		}
		return reject("derived answer %s is outside the stored range %s to %s", fmtNum(got), fmtNum(lo), fmtNum(hi))
	}
	if numbersAgree(lo, got) {
		return models.Verdict{Valid: true}
	}
	return reject("stored answer is %s but the derived answer is %s", fmtNum(lo), fmtNum(got))
}

// derivedLetters prefers the explicit option list; a bare answer is the fallback
func derivedLetters(item models.CandidateItem, d models.Derivation) ([]string, error) {
	if d.CorrectOptions != nil {
		letters, err := OptionLetters(strings.Join(d.CorrectOptions, ","), item.Options)
		if err != nil {
			return nil, fmt.Errorf("validator output: %w", err)
		}
		return letters, nil
	}
	letters, err := OptionLetters(d.Answer.String(), item.Options)
	if err != nil {
		return nil, fmt.Errorf("validator output: %w", err)
	}
	return letters, nil
}

// OptionLetters resolves an answer such as "B", "a, c", "Option 2" or the
// literal option text into sorted, de-duplicated option letters.
func OptionLetters(answer string, options []string) ([]string, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, nil
	}

	// Option text may itself contain separators ("salt and pepper")
	for i, opt := range options {
		if strings.EqualFold(strings.TrimSpace(opt), answer) {
			return []string{Letter(i)}, nil
		}
	}

	seen := make(map[string]bool)
	for _, part := range answerSplitRegex.Split(answer, -1) {
		if part == "" {
			continue
		}
		letters, ok := resolveOption(part, options)
		if !ok {
			return nil, fmt.Errorf("%q does not name an option", part)
		}
		for _, l := range letters {
			seen[l] = true
		}
	}

	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	slices.Sort(out)
	return out, nil
}

func resolveOption(part string, options []string) ([]string, bool) {
	n := len(options)
	if n == 0 {
		n = OptionCount
	}

	for i, opt := range options {
		if strings.EqualFold(strings.TrimSpace(opt), part) {
			return []string{Letter(i)}, true
		}
	}

	token := strings.ToUpper(strings.TrimSpace(part))
	token = strings.TrimPrefix(token, "OPTION")
	token = strings.Trim(token, " ().:")

	if l, ok := labelLetter(token, n); ok {
		return []string{l}, true
	}

	// "A C" or "A) B)"
	fields := strings.Fields(token)
	if len(fields) > 1 {
		out := make([]string, 0, len(fields))
		for _, f := range fields {
			l, ok := labelLetter(strings.Trim(f, "().:"), n)
			if !ok {
				return nil, false
			}
			out = append(out, l)
		}
		return out, true
	}
	return nil, false
}

func labelLetter(token string, n int) (string, bool) {
	if len(token) != 1 {
		return "", false
	}
	c := token[0]
	switch {
	case c >= 'A' && int(c-'A') < n:
		return string(c), true
	case c >= '1' && int(c-'1') < n:
		return Letter(int(c - '1')), true
	}
	return "", false
}

// ParseNumericAnswer reads a number or an inclusive range ("a to b", "a..b").
// For a single number lo == hi. Surrounding text such as units is ignored.
func ParseNumericAnswer(s string) (lo, hi float64, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, fmt.Errorf("no numeric answer")
	}

	if m := rangeRegex.FindStringSubmatch(s); m != nil {
		lo, err1 := strconv.ParseFloat(m[1], 64)
		hi, err2 := strconv.ParseFloat(m[2], 64)
		if err1 == nil && err2 == nil {
			if lo > hi {
				lo, hi = hi, lo
			}
			return lo, hi, nil
		}
	}

	m := numberRegex.FindString(strings.ReplaceAll(s, ",", ""))
	if m == "" {
		return 0, 0, fmt.Errorf("%q is not a number", s)
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%q is not a number", s)
	}
	return v, v, nil
}

func numbersAgree(want, got float64) bool {
	diff := math.Abs(want - got)
	if diff < 1e-9 {
		return true
	}
	return diff <= NumericTolerance*math.Max(math.Abs(want), math.Abs(got))
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func reject(format string, args ...any) models.Verdict {
	return models.Verdict{Valid: false, Reason: fmt.Sprintf(format, args...)}
}
