package session

// DefaultSystemPrompt is used when a start envelope carries no system instruction
const DefaultSystemPrompt = "You are a helpful assistant."

const (
	// docToolLabel names the document tool inside injected tool-result turns
	docToolLabel = "brochure QA"

	// relayInstruction asks the model to speak an injected tool result
	relayInstruction = "Please read the tool result for the user in one or two sentences."

	noAnswerFound = "(no answer found)"
)
