package config

// GetDefaultGenerationSystemPrompt returns the system prompt for item generation
func GetDefaultGenerationSystemPrompt() string {
	return `You are an experienced examiner who writes original, unambiguous exam questions. Every question you write has been solved by you and has exactly the answer you state. You reply with JSON only.`
}

// GetDefaultSolutionSystemPrompt returns the system prompt for solving reference items
func GetDefaultSolutionSystemPrompt() string {
	return `You are a subject expert solving previous-year exam questions. Work carefully and show the key steps in the explanation. You reply with JSON only.`
}

// GetDefaultValidationSystemPrompt returns the system prompt for semantic validation
func GetDefaultValidationSystemPrompt() string {
	return `You are a meticulous reviewer. You solve each question from scratch and report which options are actually correct. You reply with JSON only.`
}

// GetDefaultExtractionSystemPrompt returns the system prompt for PYQ extraction
func GetDefaultExtractionSystemPrompt() string {
	return `You transcribe exam papers into structured data. You never invent questions and never alter their wording. You reply with JSON only.`
}
