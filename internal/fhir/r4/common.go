// Package r4 provides the FHIR R4 data structures emitted by the note
// structuring pipeline.
package r4

// CodeableConcept represents a concept with text and codings.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Coding represents a code from a terminology system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Reference represents a reference to another resource, using the literal
// "<ResourceType>/<id>" convention.
type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Period represents a time period. Values are FHIR date/dateTime strings.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Quantity represents a measured amount.
type Quantity struct {
	Value  float64 `json:"value"`
	Unit   string  `json:"unit,omitempty"`
	System string  `json:"system,omitempty"`
	Code   string  `json:"code,omitempty"`
}

// Dosage represents free-text dosage instructions.
type Dosage struct {
	Text string `json:"text,omitempty"`
}

// Common code systems.
const (
	SystemICD10      = "http://hl7.org/fhir/sid/icd-10"
	SystemICD10PCS   = "http://hl7.org/fhir/sid/icd-10-pcs"
	SystemRxNorm     = "http://www.nlm.nih.gov/research/umls/rxnorm"
	SystemLOINC      = "http://loinc.org"
	SystemUCUM       = "http://unitsofmeasure.org"
	SystemActCode    = "http://terminology.hl7.org/CodeSystem/v3-ActCode"
	SystemObsCat     = "http://terminology.hl7.org/CodeSystem/observation-category"
	SystemCondStatus = "http://terminology.hl7.org/CodeSystem/condition-clinical"
)

// LOINC codes for the vital signs the builder maps.
const (
	LOINCBloodPressurePanel = "85354-9"
	LOINCSystolicBP         = "8480-6"
	LOINCDiastolicBP        = "8462-4"
	LOINCHeartRate          = "8867-4"
	LOINCBodyWeight         = "29463-7"
	LOINCBMI                = "39156-5"
)
