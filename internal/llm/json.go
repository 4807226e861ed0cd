package llm

import (
	"encoding/json"
	"log"
	"regexp"
	"strings"
)

var objectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSONObject strips markdown code fences and returns the span from the
// first '{' to the last '}'. Models often wrap JSON in prose or fences.
func ExtractJSONObject(text string) (string, bool) {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	match := objectPattern.FindString(text)
	if match == "" {
		return "", false
	}
	return strings.TrimSpace(match), true
}

// ParseJSONResponse parses a JSON object from an LLM response, handling
// markdown code blocks and surrounding prose.
func ParseJSONResponse(text string) map[string]any {
	obj, ok := ExtractJSONObject(text)
	if !ok {
		if strings.TrimSpace(text) != "" {
			log.Printf("LLM response did not contain a JSON object")
		}
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		log.Printf("Failed to parse LLM response as JSON: %v", err)
		return nil
	}

	return result
}
