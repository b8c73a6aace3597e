package vision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"worker-walkthrough/constant"
	"worker-walkthrough/pkg/apperror"
)

func Prompt() string {
	return "You are classifying real estate listing photographs.\n" +
		"Identify which room or area of the property this photo shows.\n" +
		"Respond with ONLY a JSON object, no prose, in exactly this shape:\n" +
		`{"category": "<one of: ` + knownCategories() + `>", ` +
		`"confidence": <number between 0 and 1>, ` +
		`"reasoning": "<one short sentence>", ` +
		`"features": ["<notable visible feature>", "..."]}` + "\n" +
		"Use \"other\" when the photo does not fit any listed category."
}

type rawClassification struct {
	Category   *string  `json:"category"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Features   []string `json:"features"`
}

// ParseClassification decodes and validates model output. Anything outside the closed
// category set or a confidence outside [0,1] is an INVALID_RESPONSE, never coerced.
func ParseClassification(content string) (*Classification, error) {
	const op = "vision.ParseClassification"

	payload := StripFence(content)
	if payload == "" {
		return nil, apperror.New(apperror.CodeInvalidResponse, op, "empty model output")
	}

	var raw rawClassification
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	if err := dec.Decode(&raw); err != nil {
		return nil, apperror.Wrapf(apperror.CodeInvalidResponse, op, err, "model output is not a JSON object")
	}
	if dec.More() {
		return nil, apperror.New(apperror.CodeInvalidResponse, op, "trailing data after JSON object")
	}

	if raw.Category == nil {
		return nil, apperror.New(apperror.CodeInvalidResponse, op, "missing category")
	}
	category := constant.RoomCategory(*raw.Category)
	if !category.Valid() {
		return nil, apperror.New(apperror.CodeInvalidResponse, op, fmt.Sprintf("unknown category %q", *raw.Category))
	}
	if raw.Confidence == nil {
		return nil, apperror.New(apperror.CodeInvalidResponse, op, "missing confidence")
	}
	if *raw.Confidence < 0 || *raw.Confidence > 1 {
		return nil, apperror.New(apperror.CodeInvalidResponse, op, fmt.Sprintf("confidence %v out of range [0,1]", *raw.Confidence))
	}

	features := make([]string, 0, len(raw.Features))
	for _, f := range raw.Features {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}

	return &Classification{
		Category:   category,
		Confidence: *raw.Confidence,
		Reasoning:  strings.TrimSpace(raw.Reasoning),
		Features:   features,
	}, nil
}

// StripFence removes a surrounding markdown code fence, with or without a language tag.
func StripFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line, e.g. ```json
		if tag := strings.TrimSpace(s[:nl]); !strings.HasPrefix(tag, "{") {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
