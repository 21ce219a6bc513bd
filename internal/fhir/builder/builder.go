// Package builder provides the deterministic mapping from a structured
// clinical record to a FHIR-shaped resource bundle.
package builder

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mjv57/medical-doc-processor/internal/clinical"
	"github.com/mjv57/medical-doc-processor/internal/fhir/r4"
)

// Bundle is the fixed-shape output of a build. The two singleton resources
// are always present; the slice fields are empty, never nil, when no input
// items qualify.
type Bundle struct {
	Patient      *r4.Patient            `json:"patient"`
	Encounter    *r4.Encounter          `json:"encounter"`
	Conditions   []r4.Condition         `json:"conditions"`
	Observations []r4.Observation       `json:"observations"`
	Medications  []r4.MedicationRequest `json:"medications"`
	Procedures   []r4.Procedure         `json:"procedures"`
	Appointments []r4.Appointment       `json:"appointments"`
}

// Treatments worded as actions become Procedure resources; recommendations
// and advice are excluded from the bundle entirely.
var procedureKeywords = []string{"administered", "performed", "given", "vaccine", "injection"}

var conditionStatusMap = map[string]string{
	"active":    "active",
	"resolved":  "resolved",
	"inactive":  "inactive",
	"remission": "remission",
}

// Builder maps clinical records to FHIR bundles. It performs no I/O; the
// generation clock is injected so identifier timestamps can be pinned in
// tests.
type Builder struct {
	Now func() time.Time
}

// New returns a Builder reading the system clock.
func New() *Builder {
	return &Builder{Now: time.Now}
}

// Build converts one record into a bundle. It never fails: items that do not
// parse (an unreadable vital, a treatment that is only advice) are skipped
// without affecting their siblings.
func (b *Builder) Build(rec *clinical.Record) *Bundle {
	now := b.Now()
	patientID := b.patientID(rec, now)
	encounterID := "encounter-" + now.Format("20060102-150405")

	return &Bundle{
		Patient:      b.buildPatient(rec, patientID),
		Encounter:    b.buildEncounter(rec, encounterID, patientID),
		Conditions:   b.buildConditions(rec, patientID, encounterID),
		Observations: b.buildObservations(rec, patientID, encounterID),
		Medications:  b.buildMedicationRequests(rec, patientID, encounterID),
		Procedures:   b.buildProcedures(rec, patientID, encounterID),
		Appointments: b.buildAppointments(rec, patientID),
	}
}

// patientID normalizes the extracted patient identifier, or synthesizes a
// timestamped one when the note carried none.
func (b *Builder) patientID(rec *clinical.Record, now time.Time) string {
	if id := rec.Patient.ID; id != "" {
		id = strings.ReplaceAll(id, "--", "-")
		return strings.ReplaceAll(id, " ", "-")
	}
	return "patient-" + now.Format("20060102150405")
}

func (b *Builder) buildPatient(rec *clinical.Record, patientID string) *r4.Patient {
	patient := &r4.Patient{
		ResourceType: "Patient",
		ID:           patientID,
	}
	if rec.Patient.Gender != "" {
		patient.Gender = strings.ToLower(rec.Patient.Gender)
	}
	return patient
}

func (b *Builder) buildEncounter(rec *clinical.Record, encounterID, patientID string) *r4.Encounter {
	encounter := &r4.Encounter{
		ResourceType: "Encounter",
		ID:           encounterID,
		Status:       "finished",
		Class: &r4.Coding{
			System:  r4.SystemActCode,
			Code:    "AMB",
			Display: "ambulatory",
		},
		Subject: patientRef(patientID),
	}
	if rec.EncounterDate != "" {
		encounter.Period = &r4.Period{Start: rec.EncounterDate}
	}
	return encounter
}

func (b *Builder) buildConditions(rec *clinical.Record, patientID, encounterID string) []r4.Condition {
	conditions := make([]r4.Condition, 0, len(rec.Diagnoses))
	for i, diagnosis := range rec.Diagnoses {
		condition := r4.Condition{
			ResourceType: "Condition",
			ID:           fmt.Sprintf("condition-%d", i+1),
			Subject:      patientRef(patientID),
			Encounter:    encounterRef(encounterID),
		}

		if diagnosis.ICDCode != nil && *diagnosis.ICDCode != "" {
			condition.Code = r4.CodeableConcept{
				Coding: []r4.Coding{{
					System:  r4.SystemICD10,
					Code:    *diagnosis.ICDCode,
					Display: diagnosis.Description,
				}},
				Text: diagnosis.Description,
			}
		} else {
			condition.Code = r4.CodeableConcept{Text: diagnosis.Description}
		}

		if diagnosis.Status != "" {
			status, ok := conditionStatusMap[strings.ToLower(diagnosis.Status)]
			if !ok {
				status = "active"
			}
			condition.ClinicalStatus = &r4.CodeableConcept{
				Coding: []r4.Coding{{System: r4.SystemCondStatus, Code: status}},
			}
		}

		conditions = append(conditions, condition)
	}
	return conditions
}

// buildObservations emits vital sign observations followed by lab result
// observations. Each vital is parsed independently; one unreadable value
// never blocks the others. Respiratory rate, temperature, and height are in
// the record model but have no observation mapping yet.
func (b *Builder) buildObservations(rec *clinical.Record, patientID, encounterID string) []r4.Observation {
	observations := []r4.Observation{}

	if vs := rec.VitalSigns; vs != nil {
		if obs, ok := b.bloodPressureObservation(vs.BloodPressure, patientID, encounterID); ok {
			observations = append(observations, obs)
		}
		if value, ok := firstTokenInt(vs.HeartRate); ok {
			observations = append(observations, vitalObservation(
				"observation-hr", r4.LOINCHeartRate, "Heart rate", "Heart Rate",
				&r4.Quantity{Value: float64(value), Unit: "beats/minute", System: r4.SystemUCUM, Code: "/min"},
				patientID, encounterID))
		}
		if value, ok := firstTokenFloat(vs.Weight); ok {
			observations = append(observations, vitalObservation(
				"observation-weight", r4.LOINCBodyWeight, "Body weight", "Weight",
				&r4.Quantity{Value: value, Unit: "lbs", System: r4.SystemUCUM, Code: "[lb_av]"},
				patientID, encounterID))
		}
		if vs.BMI.Valid {
			observations = append(observations, vitalObservation(
				"observation-bmi", r4.LOINCBMI, "Body mass index (BMI)", "BMI",
				&r4.Quantity{Value: vs.BMI.Value, Unit: "kg/m2", System: r4.SystemUCUM, Code: "kg/m2"},
				patientID, encounterID))
		}
	}

	observations = append(observations, b.labObservations(rec, patientID, encounterID)...)
	return observations
}

func (b *Builder) bloodPressureObservation(text, patientID, encounterID string) (r4.Observation, bool) {
	parts := strings.Split(text, "/")
	if text == "" || len(parts) != 2 {
		return r4.Observation{}, false
	}
	systolic, okS := firstTokenInt(parts[0])
	diastolic, okD := firstTokenInt(parts[1])
	if !okS || !okD {
		return r4.Observation{}, false
	}

	obs := r4.Observation{
		ResourceType: "Observation",
		ID:           "observation-bp",
		Status:       "final",
		Category:     []r4.CodeableConcept{vitalSignsCategory()},
		Code: r4.CodeableConcept{
			Coding: []r4.Coding{{System: r4.SystemLOINC, Code: r4.LOINCBloodPressurePanel, Display: "Blood pressure panel"}},
			Text:   "Blood Pressure",
		},
		Subject:   patientRef(patientID),
		Encounter: encounterRef(encounterID),
		Component: []r4.ObservationComponent{
			{
				Code:          r4.CodeableConcept{Coding: []r4.Coding{{System: r4.SystemLOINC, Code: r4.LOINCSystolicBP, Display: "Systolic blood pressure"}}},
				ValueQuantity: &r4.Quantity{Value: float64(systolic), Unit: "mmHg", System: r4.SystemUCUM, Code: "mm[Hg]"},
			},
			{
				Code:          r4.CodeableConcept{Coding: []r4.Coding{{System: r4.SystemLOINC, Code: r4.LOINCDiastolicBP, Display: "Diastolic blood pressure"}}},
				ValueQuantity: &r4.Quantity{Value: float64(diastolic), Unit: "mmHg", System: r4.SystemUCUM, Code: "mm[Hg]"},
			},
		},
	}
	return obs, true
}

// labObservations produces one "registered" observation per lab entry. Lab
// results carry no confirmed numeric value at extraction time, so the status
// is never "final". Test names iterate in lexicographic order to keep
// positional IDs stable.
func (b *Builder) labObservations(rec *clinical.Record, patientID, encounterID string) []r4.Observation {
	if len(rec.LabResults) == 0 {
		return nil
	}

	names := make([]string, 0, len(rec.LabResults))
	for name := range rec.LabResults {
		names = append(names, name)
	}
	sort.Strings(names)

	observations := make([]r4.Observation, 0, len(names))
	for i, name := range names {
		if name == "" {
			continue
		}
		obs := r4.Observation{
			ResourceType: "Observation",
			ID:           fmt.Sprintf("observation-lab-%d", i+1),
			Status:       "registered",
			Category: []r4.CodeableConcept{{
				Coding: []r4.Coding{{System: r4.SystemObsCat, Code: "laboratory", Display: "Laboratory"}},
			}},
			Code:      r4.CodeableConcept{Text: name},
			Subject:   patientRef(patientID),
			Encounter: encounterRef(encounterID),
		}
		if value := rec.LabResults[name]; value != nil {
			obs.ValueString = fmt.Sprintf("%v", value)
		}
		observations = append(observations, obs)
	}
	return observations
}

func (b *Builder) buildMedicationRequests(rec *clinical.Record, patientID, encounterID string) []r4.MedicationRequest {
	requests := make([]r4.MedicationRequest, 0, len(rec.Medications))
	for i, medication := range rec.Medications {
		request := r4.MedicationRequest{
			ResourceType: "MedicationRequest",
			ID:           fmt.Sprintf("medication-%d", i+1),
			Status:       "active",
			Intent:       "order",
			Subject:      patientRef(patientID),
			Encounter:    encounterRef(encounterID),
		}

		if medication.RxNormCode != nil && *medication.RxNormCode != "" {
			request.MedicationCodeableConcept = r4.CodeableConcept{
				Coding: []r4.Coding{{
					System:  r4.SystemRxNorm,
					Code:    *medication.RxNormCode,
					Display: medication.Name,
				}},
				Text: medication.Name,
			}
		} else {
			request.MedicationCodeableConcept = r4.CodeableConcept{Text: medication.Name}
		}

		var instructions []string
		if medication.Dosage != "" {
			instructions = append(instructions, medication.Dosage)
		}
		if medication.Route != "" {
			instructions = append(instructions, "Route: "+medication.Route)
		}
		if medication.Frequency != "" {
			instructions = append(instructions, "Frequency: "+medication.Frequency)
		}
		if len(instructions) > 0 {
			request.DosageInstruction = []r4.Dosage{{Text: strings.Join(instructions, "; ")}}
		}

		requests = append(requests, request)
	}
	return requests
}

// buildProcedures keeps only treatments worded as performed actions. The
// positional ID indexes the treatments slice, so a skipped advice entry
// still consumes its index.
func (b *Builder) buildProcedures(rec *clinical.Record, patientID, encounterID string) []r4.Procedure {
	procedures := []r4.Procedure{}
	for i, treatment := range rec.Treatments {
		if !isPerformedAction(treatment.Description) {
			continue
		}

		procedure := r4.Procedure{
			ResourceType: "Procedure",
			ID:           fmt.Sprintf("procedure-%d", i+1),
			Status:       "completed",
			Category:     &r4.CodeableConcept{Text: "Prevention"},
			Code:         r4.CodeableConcept{Text: treatment.Description},
			Subject:      patientRef(patientID),
			Encounter:    encounterRef(encounterID),
		}
		if treatment.ICDProcedureCode != "" {
			procedure.Code.Coding = []r4.Coding{{
				System:  r4.SystemICD10PCS,
				Code:    treatment.ICDProcedureCode,
				Display: treatment.Description,
			}}
		}
		procedures = append(procedures, procedure)
	}
	return procedures
}

func (b *Builder) buildAppointments(rec *clinical.Record, patientID string) []r4.Appointment {
	appointments := make([]r4.Appointment, 0, len(rec.FollowUp))
	for i, followUp := range rec.FollowUp {
		description := followUp.Description
		if description == "" {
			description = "Follow-up appointment"
		}

		appointment := r4.Appointment{
			ResourceType: "Appointment",
			ID:           fmt.Sprintf("appointment-%d", i+1),
			Status:       "proposed",
			Description:  description,
			Participant: []r4.AppointmentParticipant{{
				Actor:  patientRef(patientID),
				Status: "accepted",
			}},
		}
		if followUp.Timeframe != "" {
			appointment.Comment = "Timeframe: " + followUp.Timeframe
		}
		appointments = append(appointments, appointment)
	}
	return appointments
}

func isPerformedAction(description string) bool {
	lowered := strings.ToLower(description)
	for _, keyword := range procedureKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func vitalObservation(id, loincCode, loincDisplay, text string, value *r4.Quantity, patientID, encounterID string) r4.Observation {
	return r4.Observation{
		ResourceType:  "Observation",
		ID:            id,
		Status:        "final",
		Category:      []r4.CodeableConcept{vitalSignsCategory()},
		Code:          r4.CodeableConcept{Coding: []r4.Coding{{System: r4.SystemLOINC, Code: loincCode, Display: loincDisplay}}, Text: text},
		Subject:       patientRef(patientID),
		Encounter:     encounterRef(encounterID),
		ValueQuantity: value,
	}
}

func vitalSignsCategory() r4.CodeableConcept {
	return r4.CodeableConcept{
		Coding: []r4.Coding{{System: r4.SystemObsCat, Code: "vital-signs", Display: "Vital Signs"}},
	}
}

func patientRef(patientID string) r4.Reference {
	return r4.Reference{Reference: "Patient/" + patientID}
}

func encounterRef(encounterID string) r4.Reference {
	return r4.Reference{Reference: "Encounter/" + encounterID}
}

// firstTokenInt parses the first whitespace-delimited token of s as an
// integer: "72 bpm" yields 72.
func firstTokenInt(s string) (int, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	value, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	return value, true
}

func firstTokenFloat(s string) (float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
