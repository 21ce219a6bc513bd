package clinical

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalizeValidRecord(t *testing.T) {
	raw := []byte(`{
		"patient": {"id": "PT-1001", "gender": "Female", "age": 45},
		"encounter_date": "2024-03-15",
		"vital_signs": {"blood_pressure": "128/82 mmHg", "heart_rate": "72 bpm", "bmi": 27.3},
		"diagnoses": [{"description": "Hypertension", "status": "active"}],
		"medications": [{"name": "Lisinopril", "dosage": "10 mg", "route": "oral", "frequency": "once daily"}],
		"treatments": [{"description": "Flu vaccine administered"}],
		"lab_results": {"HbA1c": "6.8%"},
		"follow_up": [{"description": "Recheck blood pressure", "timeframe": "3 months"}]
	}`)

	rec, err := Normalize(raw, "note text")
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if rec.Patient.ID != "PT-1001" {
		t.Errorf("patient ID = %q, want PT-1001", rec.Patient.ID)
	}
	if rec.Patient.Age == nil || *rec.Patient.Age != 45 {
		t.Errorf("patient age = %v, want 45", rec.Patient.Age)
	}
	if rec.VitalSigns == nil || rec.VitalSigns.BloodPressure != "128/82 mmHg" {
		t.Errorf("unexpected vital signs: %+v", rec.VitalSigns)
	}
	if !rec.VitalSigns.BMI.Valid || rec.VitalSigns.BMI.Value != 27.3 {
		t.Errorf("BMI = %+v, want valid 27.3", rec.VitalSigns.BMI)
	}
	if len(rec.Diagnoses) != 1 || rec.Diagnoses[0].Description != "Hypertension" {
		t.Errorf("unexpected diagnoses: %+v", rec.Diagnoses)
	}
	if rec.RawText != "note text" {
		t.Errorf("raw text = %q, want %q", rec.RawText, "note text")
	}
}

func TestNormalizeNotAnObject(t *testing.T) {
	for _, raw := range []string{`[1,2,3]`, `"just a string"`, `{broken`, ``, `null`} {
		_, err := Normalize([]byte(raw), "")
		if err == nil {
			t.Errorf("Normalize(%q) returned nil error", raw)
			continue
		}
		var malformed *MalformedExtractionError
		if !errors.As(err, &malformed) {
			t.Errorf("Normalize(%q) error type = %T, want MalformedExtractionError", raw, err)
		}
	}
}

func TestNormalizeLowercasesTopLevelKeys(t *testing.T) {
	raw := []byte(`{
		"Patient": {"id": "pt-2"},
		"Diagnoses": [{"description": "Influenza"}],
		"Follow_Up": [{"description": "Return if worse"}]
	}`)

	rec, err := Normalize(raw, "")
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if rec.Patient.ID != "pt-2" {
		t.Errorf("patient ID = %q, want pt-2", rec.Patient.ID)
	}
	if len(rec.Diagnoses) != 1 {
		t.Errorf("diagnoses = %+v, want one entry", rec.Diagnoses)
	}
	if len(rec.FollowUp) != 1 {
		t.Errorf("follow up = %+v, want one entry", rec.FollowUp)
	}
}

func TestNormalizeDefaultsCollections(t *testing.T) {
	rec, err := Normalize([]byte(`{"patient": {"id": "pt-3"}}`), "")
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if rec.Diagnoses == nil || rec.Medications == nil || rec.Treatments == nil || rec.FollowUp == nil {
		t.Error("collection fields must be non-nil after normalization")
	}
	if len(rec.Diagnoses) != 0 {
		t.Errorf("diagnoses = %+v, want empty", rec.Diagnoses)
	}
}

func TestBMILenientDecoding(t *testing.T) {
	tests := []struct {
		in        string
		wantValid bool
		wantValue float64
	}{
		{`27.3`, true, 27.3},
		{`"27.3"`, true, 27.3},
		{`"31"`, true, 31},
		{`null`, false, 0},
		{`"not measured"`, false, 0},
		{`""`, false, 0},
	}

	for _, tt := range tests {
		var b BMI
		if err := json.Unmarshal([]byte(tt.in), &b); err != nil {
			t.Errorf("unmarshal %s returned error: %v", tt.in, err)
			continue
		}
		if b.Valid != tt.wantValid || (tt.wantValid && b.Value != tt.wantValue) {
			t.Errorf("unmarshal %s = %+v, want valid=%v value=%v", tt.in, b, tt.wantValid, tt.wantValue)
		}
	}
}

func TestBMIRoundTrip(t *testing.T) {
	out, err := json.Marshal(BMI{Value: 27.3, Valid: true})
	if err != nil {
		t.Fatalf("marshal returned error: %v", err)
	}
	if string(out) != "27.3" {
		t.Errorf("marshal = %s, want 27.3", out)
	}

	out, err = json.Marshal(BMI{})
	if err != nil {
		t.Fatalf("marshal returned error: %v", err)
	}
	if string(out) != "null" {
		t.Errorf("marshal invalid BMI = %s, want null", out)
	}
}

func TestRecordJSONRoundTrip(t *testing.T) {
	raw := []byte(`{"patient":{"id":"pt-9"},"diagnoses":[{"description":"Hypertension","icd_code":"I10"}],"medications":[],"treatments":[],"follow_up":[]}`)

	rec, err := Normalize(raw, "")
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal returned error: %v", err)
	}

	var again Record
	if err := json.Unmarshal(encoded, &again); err != nil {
		t.Fatalf("unmarshal returned error: %v", err)
	}
	if again.Diagnoses[0].ICDCode == nil || *again.Diagnoses[0].ICDCode != "I10" {
		t.Errorf("ICD code lost in round trip: %+v", again.Diagnoses[0])
	}
}
