// Package clinical defines the canonical structured representation of one
// processed medical note, shared by the extraction, enrichment, and FHIR
// conversion stages.
package clinical

import (
	"bytes"
	"strconv"
	"strings"
)

// Patient holds the demographics extracted from a note. The ID may be empty
// when the note carries no identifier; the FHIR builder synthesizes one.
type Patient struct {
	ID     string `json:"id"`
	Gender string `json:"gender,omitempty"`
	Age    *int   `json:"age,omitempty"`
}

// VitalSigns carries free-form vital sign text as dictated in the note.
// Values stay strings ("128/82 mmHg", "72 bpm") until the FHIR builder
// attempts numeric coercion.
type VitalSigns struct {
	BloodPressure   string `json:"blood_pressure,omitempty"`
	HeartRate       string `json:"heart_rate,omitempty"`
	RespiratoryRate string `json:"respiratory_rate,omitempty"`
	Temperature     string `json:"temperature,omitempty"`
	Height          string `json:"height,omitempty"`
	Weight          string `json:"weight,omitempty"`
	BMI             BMI    `json:"bmi,omitempty"`
}

// BMI is numeric in the model, but extraction output delivers it as a JSON
// number, a quoted number, or junk. Decoding is lenient: anything that does
// not parse leaves the value absent rather than failing the whole record.
type BMI struct {
	Value float64
	Valid bool
}

func (b *BMI) UnmarshalJSON(data []byte) error {
	b.Valid = false
	s := strings.TrimSpace(string(bytes.Trim(bytes.TrimSpace(data), `"`)))
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	b.Value = f
	b.Valid = true
	return nil
}

func (b BMI) MarshalJSON() ([]byte, error) {
	if !b.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(b.Value, 'f', -1, 64)), nil
}

// Diagnosis is a single coded-or-uncoded problem from the assessment.
// ICDCode is set only after a successful terminology resolution; an absent
// code does not distinguish "never looked up" from "looked up, not found".
type Diagnosis struct {
	Description string  `json:"description"`
	Status      string  `json:"status,omitempty"`
	ICDCode     *string `json:"icd_code,omitempty"`
}

// Medication is a prescribed or current medication. RxNormCode follows the
// same presence semantics as Diagnosis.ICDCode.
type Medication struct {
	Name       string  `json:"name"`
	Dosage     string  `json:"dosage,omitempty"`
	Route      string  `json:"route,omitempty"`
	Frequency  string  `json:"frequency,omitempty"`
	RxNormCode *string `json:"rxnorm_code,omitempty"`
}

// Treatment is an in-visit action or recommendation from the plan section.
type Treatment struct {
	Description      string `json:"description"`
	ICDProcedureCode string `json:"icd_procedure_code,omitempty"`
}

// FollowUp is a proposed follow-up from the plan section.
type FollowUp struct {
	Description string `json:"description"`
	Timeframe   string `json:"timeframe,omitempty"`
}

// Record is the canonical structured form of one note. One Record belongs to
// exactly one pipeline invocation; nothing shares it across requests.
type Record struct {
	Patient       Patient        `json:"patient"`
	EncounterDate string         `json:"encounter_date,omitempty"`
	VitalSigns    *VitalSigns    `json:"vital_signs,omitempty"`
	Diagnoses     []Diagnosis    `json:"diagnoses"`
	Medications   []Medication   `json:"medications"`
	Treatments    []Treatment    `json:"treatments"`
	LabResults    map[string]any `json:"lab_results,omitempty"`
	FollowUp      []FollowUp     `json:"follow_up"`
	RawText       string         `json:"raw_text,omitempty"`
}
