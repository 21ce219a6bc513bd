package clinical

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MalformedExtractionError reports extraction output that could not be read
// as a JSON object. It is fatal for the request that produced it.
type MalformedExtractionError struct {
	Reason string
	Cause  error
}

func (e *MalformedExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed extraction output: %s (%s)", e.Reason, e.Cause.Error())
	}
	return fmt.Sprintf("malformed extraction output: %s", e.Reason)
}

func (e *MalformedExtractionError) Unwrap() error {
	return e.Cause
}

// Normalize converts raw extraction output into a Record. Top-level keys are
// lower-cased so "Diagnoses" and "diagnoses" collapse; nested structure is
// left untouched. rawText is retained on the record for traceability.
//
// The collection fields are always non-nil after normalization, so callers
// can range without nil checks.
func Normalize(raw []byte, rawText string) (*Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &MalformedExtractionError{Reason: "not a JSON object", Cause: err}
	}
	// A literal null unmarshals into a nil map without error.
	if fields == nil {
		return nil, &MalformedExtractionError{Reason: "not a JSON object"}
	}

	lowered := make(map[string]json.RawMessage, len(fields))
	for key, value := range fields {
		lowered[strings.ToLower(key)] = value
	}

	merged, err := json.Marshal(lowered)
	if err != nil {
		return nil, &MalformedExtractionError{Reason: "could not re-encode fields", Cause: err}
	}

	var rec Record
	if err := json.Unmarshal(merged, &rec); err != nil {
		return nil, &MalformedExtractionError{Reason: "fields do not match the record shape", Cause: err}
	}

	if rec.Diagnoses == nil {
		rec.Diagnoses = []Diagnosis{}
	}
	if rec.Medications == nil {
		rec.Medications = []Medication{}
	}
	if rec.Treatments == nil {
		rec.Treatments = []Treatment{}
	}
	if rec.FollowUp == nil {
		rec.FollowUp = []FollowUp{}
	}
	rec.RawText = rawText

	return &rec, nil
}
