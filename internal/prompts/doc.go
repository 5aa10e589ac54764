// Package prompts holds the text SEL sends to language models and the
// assembler that turns conversation state into an ordered message list.
//
// Operators can replace the persona with persona_file in config.yaml.
package prompts
