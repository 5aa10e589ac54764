package prompts

// Classifier answers. Anything else is treated as [ClassNormal].
const (
	ClassSystem = "system"
	ClassNormal = "normal"
)

const classifierTemplate = `You are a message classifier. Determine if the user wants to:
- "system": Run a system command, check processes, disk space, etc.
- "normal": Regular conversation

Respond with ONLY one word: "system" or "normal"`

// ClassifierPrompt returns the system prompt for the tool-intent
// classifier. The user message is sent separately, unmodified.
func ClassifierPrompt() string {
	return classifierTemplate
}
