package transcription

import (
	"fmt"
	"strings"
)

// BuildPrompt returns the recognition prompt for a language code and optional instructions.
// Instructions are appended only when they contain text.
func BuildPrompt(languageCode, instructions string) string {
	name, ok := LanguageName(languageCode)
	if !ok {
		name = languageCode
	}

	prompt := fmt.Sprintf("Transcribe this audio. The spoken language is %s.", name)
	if extra := strings.TrimSpace(instructions); extra != "" {
		prompt += " " + extra
	}
	return prompt
}
