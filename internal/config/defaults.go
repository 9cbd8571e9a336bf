package config

import "github.com/lamim/examforge/pkg/models"

// GetDefaultGenerationTemplate returns the default template for item generation.
// Fields: CourseID, TopicName, ItemType, TypeRules, ReferenceItems, ExistingItems.
func GetDefaultGenerationTemplate() string {
	return `Create ONE new exam question for the course "{{.CourseID}}" on the topic "{{.TopicName}}".

Question type: {{.ItemType}}
{{.TypeRules}}
{{if .ReferenceItems}}
REFERENCE QUESTIONS (previous years). Use them only as inspiration for style and difficulty. Never copy or paraphrase them:
{{.ReferenceItems}}
{{end}}{{if .ExistingItems}}
QUESTIONS ALREADY IN THE BANK. Your question must test something different from every one of these:
{{.ExistingItems}}
{{end}}
Solve your own question before answering. If you find it is ambiguous or has no correct answer, set "is_invalid" to true and explain why in "invalid_reason".

Return ONLY a valid JSON array with exactly one object (no markdown, no additional text):
[{"question": "...", "type": "{{.ItemType}}", "options": ["...", "...", "...", "..."], "answer": "...", "explanation": "...", "is_invalid": false, "invalid_reason": ""}]`
}

// GetDefaultSolutionTemplate returns the default template for solving a reference item.
// Fields: Statement, ItemType, Options, Letters, HasImage.
func GetDefaultSolutionTemplate() string {
	return `Solve the following exam question.
{{if .HasImage}}The attached image is part of the question.
{{end}}
Question type: {{.ItemType}}
Question: {{.Statement}}
{{if .Options}}Options:
{{range $i, $o := .Options}}{{index $.Letters $i}}. {{$o}}
{{end}}{{end}}
Return ONLY a valid JSON object (no markdown, no additional text):
{"answer": "<option letter(s) separated by commas, a number, or the model answer>", "explanation": "<step-by-step solution>"}`
}

// GetDefaultValidationTemplate returns the default template for independent re-derivation.
// Fields: Statement, ItemType, Options, Letters.
func GetDefaultValidationTemplate() string {
	return `You are checking an exam question for correctness. Solve it independently. Do not assume any answer is correct.

Question type: {{.ItemType}}
Question: {{.Statement}}
{{if .Options}}Options:
{{range $i, $o := .Options}}{{index $.Letters $i}}. {{$o}}
{{end}}
List every option that is correct in "correct_options" using option letters. If no option is correct, return an empty list.
{{end}}
Return ONLY a valid JSON object (no markdown, no additional text):
{"correct_options": ["A"], "answer": "<your final answer>", "reasoning": "<brief derivation>"}`
}

// GetDefaultExtractionTemplate returns the default template for pulling PYQs out of a page.
// Fields: TopicName, ItemType, Text, HasImage.
func GetDefaultExtractionTemplate() string {
	return `Extract every exam question of type {{.ItemType}} about "{{.TopicName}}" from the {{if .HasImage}}attached image{{else}}text below{{end}}.
Copy question text and options exactly. Leave "answer" and "explanation" empty unless they are printed in the source.
{{if .Text}}
SOURCE:
{{.Text}}
{{end}}
Return ONLY a valid JSON array (no markdown, no additional text):
[{"question": "...", "type": "{{.ItemType}}", "options": ["...", "...", "...", "..."], "answer": "", "explanation": ""}]`
}

// TypeRules describes the answer format the model must follow for an item type
func TypeRules(t models.ItemType) string {
	switch t {
	case models.ItemSingleSelect:
		return `Provide exactly 4 options. Exactly one option is correct. "answer" is the letter of the correct option (A-D).`
	case models.ItemMultiSelect:
		return `Provide exactly 4 options. One or more options are correct. "answer" lists the correct letters separated by commas (e.g. "A,C").`
	case models.ItemNumeric:
		return `Do not provide options ("options": null). "answer" is a number or an inclusive range written as "a to b".`
	default:
		return `Do not provide options ("options": null). "answer" is a concise model answer.`
	}
}

// DefaultScoring returns the marking scheme used when [scoring] has no entry for t
func DefaultScoring(t models.ItemType) models.Scoring {
	switch t {
	case models.ItemSingleSelect:
		return models.Scoring{CorrectMarks: 1, IncorrectMarks: -0.33, TimeSeconds: 120}
	case models.ItemMultiSelect:
		return models.Scoring{CorrectMarks: 2, PartialMarks: 1, TimeSeconds: 180}
	case models.ItemNumeric:
		return models.Scoring{CorrectMarks: 2, TimeSeconds: 180}
	default:
		return models.Scoring{CorrectMarks: 5, PartialMarks: 2, TimeSeconds: 600}
	}
}
