package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"changelabel/internal/domain"
)

var ErrMalformedResponse = errors.New("malformed classification response")

type classificationPayload struct {
	Label      *string  `json:"label"`
	Confidence *float64 `json:"confidence"`
	Rationale  *string  `json:"rationale"`
}

// parseClassification requires exactly one JSON object with label, confidence
// and rationale. Anything else fails the record; nothing is defaulted.
func parseClassification(responseText string) (domain.ClassificationResult, error) {
	responseText = stripCodeFence(responseText)

	dec := json.NewDecoder(strings.NewReader(responseText))
	dec.DisallowUnknownFields()

	var payload classificationPayload
	if err := dec.Decode(&payload); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("%w: %v (response: %s)", ErrMalformedResponse, err, truncateForError(responseText))
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.ClassificationResult{}, fmt.Errorf("%w: trailing data after object (response: %s)", ErrMalformedResponse, truncateForError(responseText))
	}

	switch {
	case payload.Label == nil:
		return domain.ClassificationResult{}, fmt.Errorf("%w: missing label", ErrMalformedResponse)
	case payload.Confidence == nil:
		return domain.ClassificationResult{}, fmt.Errorf("%w: missing confidence", ErrMalformedResponse)
	case payload.Rationale == nil:
		return domain.ClassificationResult{}, fmt.Errorf("%w: missing rationale", ErrMalformedResponse)
	}

	label, ok := domain.ParseModelLabel(*payload.Label)
	if !ok {
		return domain.ClassificationResult{}, fmt.Errorf("%w: label %q not in taxonomy", ErrMalformedResponse, *payload.Label)
	}
	confidence := *payload.Confidence
	if confidence < 0 || confidence > 1 {
		return domain.ClassificationResult{}, fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedResponse, confidence)
	}

	return domain.ClassificationResult{
		Label:      label,
		Confidence: domain.Confidence(confidence),
		Rationale:  strings.TrimSpace(*payload.Rationale),
	}, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncateForError(s string) string {
	if len(s) > 512 {
		return s[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(s))
	}
	return s
}
