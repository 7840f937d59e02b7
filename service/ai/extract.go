package ai

import "encoding/json"

// Models often wrap JSON in prose or code fences. These helpers scan for the
// first balanced object/array and validate it parses before returning it.

func extractJSONObject(text string) json.RawMessage {
	return extractBalanced(text, '{', '}')
}

func extractJSONArray(text string) json.RawMessage {
	return extractBalanced(text, '[', ']')
}

func extractBalanced(text string, open, close byte) json.RawMessage {
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case open:
			if start == -1 {
				start = i
			}
			depth++
		case close:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start != -1 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return json.RawMessage(candidate)
				}
				start = -1
			}
		}
	}

	// Fallback: the whole text may already be bare JSON.
	if json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	return nil
}
