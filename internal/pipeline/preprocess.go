package pipeline

import "strings"

// preprocessPrompt applies options.Template (replacing every "{prompt}"
// occurrence) then prepends options.SystemPrompt separated by two newlines,
// grounded on spec.md §4.6 step 3.
func preprocessPrompt(prompt, template, systemPrompt string) string {
	if template != "" {
		prompt = strings.ReplaceAll(template, "{prompt}", prompt)
	}
	if systemPrompt != "" {
		prompt = systemPrompt + "\n\n" + prompt
	}
	return prompt
}
