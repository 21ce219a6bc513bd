package builder

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mjv57/medical-doc-processor/internal/clinical"
	"github.com/mjv57/medical-doc-processor/internal/fhir/r4"
)

func pinnedBuilder() *Builder {
	return &Builder{Now: func() time.Time {
		return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	}}
}

func strPtr(s string) *string { return &s }

func TestBuildPatientAndEncounter(t *testing.T) {
	rec := &clinical.Record{
		Patient:       clinical.Patient{ID: "PT 1001", Gender: "Female"},
		EncounterDate: "2024-03-15",
	}

	bundle := pinnedBuilder().Build(rec)

	if bundle.Patient.ID != "PT-1001" {
		t.Errorf("patient ID = %q, want PT-1001", bundle.Patient.ID)
	}
	if bundle.Patient.Gender != "female" {
		t.Errorf("gender = %q, want female", bundle.Patient.Gender)
	}
	if bundle.Encounter.ID != "encounter-20240315-103000" {
		t.Errorf("encounter ID = %q", bundle.Encounter.ID)
	}
	if bundle.Encounter.Status != "finished" {
		t.Errorf("encounter status = %q, want finished", bundle.Encounter.Status)
	}
	if bundle.Encounter.Class == nil || bundle.Encounter.Class.Code != "AMB" {
		t.Errorf("encounter class = %+v, want AMB", bundle.Encounter.Class)
	}
	if bundle.Encounter.Period == nil || bundle.Encounter.Period.Start != "2024-03-15" {
		t.Errorf("encounter period = %+v", bundle.Encounter.Period)
	}
	if bundle.Encounter.Subject.Reference != "Patient/PT-1001" {
		t.Errorf("encounter subject = %q", bundle.Encounter.Subject.Reference)
	}
}

func TestBuildSynthesizesPatientID(t *testing.T) {
	bundle := pinnedBuilder().Build(&clinical.Record{})
	if bundle.Patient.ID != "patient-20240315103000" {
		t.Errorf("patient ID = %q, want patient-20240315103000", bundle.Patient.ID)
	}
}

func TestBuildConditions(t *testing.T) {
	rec := &clinical.Record{
		Diagnoses: []clinical.Diagnosis{
			{Description: "Essential hypertension", Status: "active", ICDCode: strPtr("I10")},
			{Description: "Fatigue", Status: "chronic"},
		},
	}

	bundle := pinnedBuilder().Build(rec)
	if len(bundle.Conditions) != 2 {
		t.Fatalf("conditions = %d, want 2", len(bundle.Conditions))
	}

	coded := bundle.Conditions[0]
	if coded.ID != "condition-1" {
		t.Errorf("condition ID = %q, want condition-1", coded.ID)
	}
	if len(coded.Code.Coding) != 1 || coded.Code.Coding[0].Code != "I10" || coded.Code.Coding[0].System != r4.SystemICD10 {
		t.Errorf("condition coding = %+v", coded.Code.Coding)
	}
	if coded.ClinicalStatus.Coding[0].Code != "active" {
		t.Errorf("clinical status = %+v", coded.ClinicalStatus)
	}

	uncoded := bundle.Conditions[1]
	if uncoded.ID != "condition-2" {
		t.Errorf("condition ID = %q, want condition-2", uncoded.ID)
	}
	if len(uncoded.Code.Coding) != 0 || uncoded.Code.Text != "Fatigue" {
		t.Errorf("uncoded condition = %+v", uncoded.Code)
	}
	// Unknown status maps to active
	if uncoded.ClinicalStatus.Coding[0].Code != "active" {
		t.Errorf("unknown status mapped to %+v, want active", uncoded.ClinicalStatus)
	}
}

func TestBloodPressureObservation(t *testing.T) {
	rec := &clinical.Record{
		VitalSigns: &clinical.VitalSigns{BloodPressure: "128/82 mmHg"},
	}

	bundle := pinnedBuilder().Build(rec)
	if len(bundle.Observations) != 1 {
		t.Fatalf("observations = %d, want 1", len(bundle.Observations))
	}

	obs := bundle.Observations[0]
	if obs.ID != "observation-bp" {
		t.Errorf("observation ID = %q", obs.ID)
	}
	if len(obs.Component) != 2 {
		t.Fatalf("components = %d, want 2", len(obs.Component))
	}
	if obs.Component[0].ValueQuantity.Value != 128 {
		t.Errorf("systolic = %v, want 128", obs.Component[0].ValueQuantity.Value)
	}
	if obs.Component[1].ValueQuantity.Value != 82 {
		t.Errorf("diastolic = %v, want 82", obs.Component[1].ValueQuantity.Value)
	}
}

func TestUnreadableVitalsAreSkipped(t *testing.T) {
	rec := &clinical.Record{
		VitalSigns: &clinical.VitalSigns{
			BloodPressure: "unreadable",
			HeartRate:     "strong",
			Weight:        "",
		},
	}

	bundle := pinnedBuilder().Build(rec)
	if len(bundle.Observations) != 0 {
		t.Errorf("observations = %+v, want none", bundle.Observations)
	}
}

func TestThreePartBloodPressureIsSkipped(t *testing.T) {
	rec := &clinical.Record{
		VitalSigns: &clinical.VitalSigns{BloodPressure: "120/80/60"},
	}
	bundle := pinnedBuilder().Build(rec)
	if len(bundle.Observations) != 0 {
		t.Errorf("observations = %+v, want none for malformed reading", bundle.Observations)
	}
}

func TestVitalAndLabObservations(t *testing.T) {
	rec := &clinical.Record{
		VitalSigns: &clinical.VitalSigns{
			HeartRate: "72 bpm",
			Weight:    "165 lbs",
			BMI:       clinical.BMI{Value: 27.3, Valid: true},
		},
		LabResults: map[string]any{
			"HbA1c":   "6.8%",
			"Glucose": 104,
		},
	}

	bundle := pinnedBuilder().Build(rec)
	if len(bundle.Observations) != 5 {
		t.Fatalf("observations = %d, want 5", len(bundle.Observations))
	}

	if bundle.Observations[0].ID != "observation-hr" || bundle.Observations[0].ValueQuantity.Value != 72 {
		t.Errorf("heart rate observation = %+v", bundle.Observations[0])
	}
	if bundle.Observations[1].ID != "observation-weight" || bundle.Observations[1].ValueQuantity.Value != 165 {
		t.Errorf("weight observation = %+v", bundle.Observations[1])
	}
	if bundle.Observations[2].ID != "observation-bmi" || bundle.Observations[2].ValueQuantity.Value != 27.3 {
		t.Errorf("bmi observation = %+v", bundle.Observations[2])
	}

	// Lab names iterate in sorted order: Glucose before HbA1c
	lab1 := bundle.Observations[3]
	if lab1.ID != "observation-lab-1" || lab1.Code.Text != "Glucose" || lab1.ValueString != "104" {
		t.Errorf("lab observation 1 = %+v", lab1)
	}
	if lab1.Status != "registered" {
		t.Errorf("lab status = %q, want registered", lab1.Status)
	}
	lab2 := bundle.Observations[4]
	if lab2.ID != "observation-lab-2" || lab2.Code.Text != "HbA1c" || lab2.ValueString != "6.8%" {
		t.Errorf("lab observation 2 = %+v", lab2)
	}
}

func TestBuildMedicationRequests(t *testing.T) {
	rec := &clinical.Record{
		Medications: []clinical.Medication{
			{Name: "Lisinopril", Dosage: "10 mg", Route: "oral", Frequency: "once daily", RxNormCode: strPtr("29046")},
			{Name: "Mystery tonic"},
		},
	}

	bundle := pinnedBuilder().Build(rec)
	if len(bundle.Medications) != 2 {
		t.Fatalf("medications = %d, want 2", len(bundle.Medications))
	}

	coded := bundle.Medications[0]
	if coded.ID != "medication-1" || coded.Status != "active" || coded.Intent != "order" {
		t.Errorf("medication request = %+v", coded)
	}
	if coded.MedicationCodeableConcept.Coding[0].System != r4.SystemRxNorm || coded.MedicationCodeableConcept.Coding[0].Code != "29046" {
		t.Errorf("medication coding = %+v", coded.MedicationCodeableConcept.Coding)
	}
	wantDosage := "10 mg; Route: oral; Frequency: once daily"
	if len(coded.DosageInstruction) != 1 || coded.DosageInstruction[0].Text != wantDosage {
		t.Errorf("dosage = %+v, want %q", coded.DosageInstruction, wantDosage)
	}

	uncoded := bundle.Medications[1]
	if len(uncoded.MedicationCodeableConcept.Coding) != 0 || uncoded.MedicationCodeableConcept.Text != "Mystery tonic" {
		t.Errorf("uncoded medication = %+v", uncoded.MedicationCodeableConcept)
	}
	if len(uncoded.DosageInstruction) != 0 {
		t.Errorf("dosage instruction = %+v, want none", uncoded.DosageInstruction)
	}
}

func TestProceduresKeepOnlyPerformedActions(t *testing.T) {
	rec := &clinical.Record{
		Treatments: []clinical.Treatment{
			{Description: "Patient advised to reduce sodium intake"},
			{Description: "Flu vaccine administered", ICDProcedureCode: "3E0234Z"},
			{Description: "Recommended daily walking"},
		},
	}

	bundle := pinnedBuilder().Build(rec)
	if len(bundle.Procedures) != 1 {
		t.Fatalf("procedures = %d, want 1", len(bundle.Procedures))
	}

	proc := bundle.Procedures[0]
	// The skipped advice entry still consumed index 1
	if proc.ID != "procedure-2" {
		t.Errorf("procedure ID = %q, want procedure-2", proc.ID)
	}
	if proc.Status != "completed" {
		t.Errorf("procedure status = %q, want completed", proc.Status)
	}
	if proc.Category == nil || proc.Category.Text != "Prevention" {
		t.Errorf("procedure category = %+v", proc.Category)
	}
	if proc.Code.Coding[0].System != r4.SystemICD10PCS || proc.Code.Coding[0].Code != "3E0234Z" {
		t.Errorf("procedure coding = %+v", proc.Code.Coding)
	}
}

func TestAdviceOnlyTreatmentsProduceNoProcedures(t *testing.T) {
	rec := &clinical.Record{
		Treatments: []clinical.Treatment{
			{Description: "Continue current diet"},
			{Description: "Consider physical therapy referral"},
		},
	}
	bundle := pinnedBuilder().Build(rec)
	if len(bundle.Procedures) != 0 {
		t.Errorf("procedures = %+v, want none", bundle.Procedures)
	}
}

func TestBuildAppointments(t *testing.T) {
	rec := &clinical.Record{
		FollowUp: []clinical.FollowUp{
			{Description: "Recheck blood pressure", Timeframe: "3 months"},
			{},
		},
	}

	bundle := pinnedBuilder().Build(rec)
	if len(bundle.Appointments) != 2 {
		t.Fatalf("appointments = %d, want 2", len(bundle.Appointments))
	}

	appt := bundle.Appointments[0]
	if appt.ID != "appointment-1" || appt.Status != "proposed" {
		t.Errorf("appointment = %+v", appt)
	}
	if appt.Comment != "Timeframe: 3 months" {
		t.Errorf("comment = %q", appt.Comment)
	}
	if len(appt.Participant) != 1 || appt.Participant[0].Status != "accepted" {
		t.Errorf("participant = %+v", appt.Participant)
	}

	if bundle.Appointments[1].Description != "Follow-up appointment" {
		t.Errorf("default description = %q", bundle.Appointments[1].Description)
	}
}

func TestBundleJSONShape(t *testing.T) {
	bundle := pinnedBuilder().Build(&clinical.Record{})

	encoded, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal returned error: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal returned error: %v", err)
	}

	for _, key := range []string{"patient", "encounter", "conditions", "observations", "medications", "procedures", "appointments"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("bundle JSON missing key %q", key)
		}
	}
	// Empty collections serialize as arrays, not null
	if string(decoded["conditions"]) != "[]" {
		t.Errorf("conditions = %s, want []", decoded["conditions"])
	}
	if string(decoded["procedures"]) != "[]" {
		t.Errorf("procedures = %s, want []", decoded["procedures"])
	}
}
