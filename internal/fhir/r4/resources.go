package r4

// Patient represents a FHIR R4 Patient resource.
type Patient struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
	Gender       string `json:"gender,omitempty"` // male | female | other | unknown
}

// Encounter represents a FHIR R4 Encounter resource.
type Encounter struct {
	ResourceType string    `json:"resourceType"`
	ID           string    `json:"id,omitempty"`
	Status       string    `json:"status,omitempty"` // planned | in-progress | finished | ...
	Class        *Coding   `json:"class,omitempty"`
	Subject      Reference `json:"subject"`
	Period       *Period   `json:"period,omitempty"`
}

// Condition represents a FHIR R4 Condition resource.
type Condition struct {
	ResourceType   string           `json:"resourceType"`
	ID             string           `json:"id,omitempty"`
	ClinicalStatus *CodeableConcept `json:"clinicalStatus,omitempty"`
	Code           CodeableConcept  `json:"code"`
	Subject        Reference        `json:"subject"`
	Encounter      Reference        `json:"encounter"`
}

// Observation represents a FHIR R4 Observation resource. Exactly one of the
// value[x] fields is populated, or none for panel-style observations that
// carry components instead.
type Observation struct {
	ResourceType  string                 `json:"resourceType"`
	ID            string                 `json:"id,omitempty"`
	Status        string                 `json:"status,omitempty"` // registered | preliminary | final | ...
	Category      []CodeableConcept      `json:"category,omitempty"`
	Code          CodeableConcept        `json:"code"`
	Subject       Reference              `json:"subject"`
	Encounter     Reference              `json:"encounter"`
	ValueQuantity *Quantity              `json:"valueQuantity,omitempty"`
	ValueString   string                 `json:"valueString,omitempty"`
	Component     []ObservationComponent `json:"component,omitempty"`
}

// ObservationComponent represents one component of a panel observation,
// such as the systolic half of a blood pressure reading.
type ObservationComponent struct {
	Code          CodeableConcept `json:"code"`
	ValueQuantity *Quantity       `json:"valueQuantity,omitempty"`
}

// MedicationRequest represents a FHIR R4 MedicationRequest resource.
type MedicationRequest struct {
	ResourceType              string          `json:"resourceType"`
	ID                        string          `json:"id,omitempty"`
	Status                    string          `json:"status,omitempty"` // active | completed | ...
	Intent                    string          `json:"intent,omitempty"` // proposal | plan | order | ...
	MedicationCodeableConcept CodeableConcept `json:"medicationCodeableConcept"`
	Subject                   Reference       `json:"subject"`
	Encounter                 Reference       `json:"encounter"`
	DosageInstruction         []Dosage        `json:"dosageInstruction,omitempty"`
}

// Procedure represents a FHIR R4 Procedure resource.
type Procedure struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id,omitempty"`
	Status       string           `json:"status,omitempty"` // preparation | completed | ...
	Category     *CodeableConcept `json:"category,omitempty"`
	Code         CodeableConcept  `json:"code"`
	Subject      Reference        `json:"subject"`
	Encounter    Reference        `json:"encounter"`
}

// Appointment represents a FHIR R4 Appointment resource.
type Appointment struct {
	ResourceType string                   `json:"resourceType"`
	ID           string                   `json:"id,omitempty"`
	Status       string                   `json:"status,omitempty"` // proposed | booked | ...
	Description  string                   `json:"description,omitempty"`
	Comment      string                   `json:"comment,omitempty"`
	Participant  []AppointmentParticipant `json:"participant,omitempty"`
}

// AppointmentParticipant represents a participant in an appointment.
type AppointmentParticipant struct {
	Actor  Reference `json:"actor"`
	Status string    `json:"status,omitempty"` // accepted | declined | tentative | needs-action
}
