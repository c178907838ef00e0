// Package jsonx recovers a JSON object from noisy worker output.
//
// The worker CLI emits free-form commentary with a JSON object embedded near
// the end of its output. Extract first attempts a strict parse of the whole
// (trimmed) text, then falls back to scanning for the last balanced {...}
// candidate that parses.
package jsonx

import (
	"encoding/json"
	"strings"

	"github.com/Iron-Ham/conductor/internal/errors"
)

// Extract returns the JSON object embedded in s as a raw message.
//
// Strategy, in order:
//  1. Trim and attempt a strict parse of the entire text.
//  2. Locate the last '}' in the text. Walk '{' positions from right to
//     left before it, attempting to parse each candidate span. Return the
//     first span that parses to an object.
//  3. Fail with errors.ErrNoJSONFound.
//
// Intermediate {...} snippets in prose are tolerated: because candidates end
// at the final '}', only a span that is itself valid JSON wins.
func Extract(s string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, errors.ErrNoJSONFound
	}

	if obj, ok := parseObject(trimmed); ok {
		return obj, nil
	}

	end := strings.LastIndexByte(trimmed, '}')
	if end < 0 {
		return nil, errors.ErrNoJSONFound
	}

	for start := strings.LastIndexByte(trimmed[:end], '{'); start >= 0; start = strings.LastIndexByte(trimmed[:start], '{') {
		if obj, ok := parseObject(trimmed[start : end+1]); ok {
			return obj, nil
		}
	}

	return nil, errors.ErrNoJSONFound
}

// ExtractInto extracts the JSON object in s and unmarshals it into v.
func ExtractInto(s string, v any) error {
	raw, err := Extract(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.ErrNoJSONFound
	}
	return nil
}

// parseObject reports whether candidate is a single JSON object, returning
// the candidate text unchanged as a raw message when it is.
func parseObject(candidate string) (json.RawMessage, bool) {
	var m map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(candidate))
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	// Reject trailing content so prose after the object doesn't sneak in
	// on the strict-parse path.
	if strings.TrimSpace(candidate[dec.InputOffset():]) != "" {
		return nil, false
	}
	return json.RawMessage(candidate), true
}
