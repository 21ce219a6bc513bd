package terminology

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/mjv57/medical-doc-processor/internal/clinical"
	"github.com/mjv57/medical-doc-processor/internal/observability/metrics"
)

type stubSearcher struct {
	candidates []Candidate
	err        error
	calls      int
}

func (s *stubSearcher) Search(ctx context.Context, term string, maxResults int) ([]Candidate, error) {
	s.calls++
	return s.candidates, s.err
}

type stubLookup struct {
	exact       string
	exactErr    error
	approximate []Candidate
	approxErr   error
}

func (s *stubLookup) RxCUI(ctx context.Context, name string) (string, error) {
	return s.exact, s.exactErr
}

func (s *stubLookup) Approximate(ctx context.Context, term string, maxEntries int) ([]Candidate, error) {
	return s.approximate, s.approxErr
}

func newTestResolver(d DiagnosisSearcher, m MedicationLookup) *Resolver {
	return NewResolver(d, m, nil, nil, nil, zap.NewNop())
}

func TestResolveDiagnosisCodeFromService(t *testing.T) {
	searcher := &stubSearcher{candidates: []Candidate{
		{Code: "I10", Display: "Essential (primary) hypertension"},
	}}
	r := newTestResolver(searcher, nil)

	code, ok := r.ResolveDiagnosisCode(context.Background(), "Hypertension")
	if !ok || code != "I10" {
		t.Errorf("code = %q ok = %v, want I10 true", code, ok)
	}
}

func TestResolveDiagnosisCodeSkipsUnrelatedCandidates(t *testing.T) {
	searcher := &stubSearcher{candidates: []Candidate{
		{Code: "Z99.9", Display: "Dependence on unspecified enabling machines"},
		{Code: "I10", Display: "Essential (primary) hypertension"},
	}}
	r := newTestResolver(searcher, nil)

	code, ok := r.ResolveDiagnosisCode(context.Background(), "hypertension")
	if !ok || code != "I10" {
		t.Errorf("code = %q ok = %v, want I10 true", code, ok)
	}
}

func TestResolveDiagnosisCodeFallsBackOnServiceError(t *testing.T) {
	searcher := &stubSearcher{err: errors.New("connection refused")}
	r := newTestResolver(searcher, nil)

	code, ok := r.ResolveDiagnosisCode(context.Background(), "Type 2 Diabetes")
	if !ok || code != "E11.9" {
		t.Errorf("code = %q ok = %v, want E11.9 true", code, ok)
	}
}

func TestResolveDiagnosisCodeUnknownTerm(t *testing.T) {
	r := newTestResolver(&stubSearcher{}, nil)

	code, ok := r.ResolveDiagnosisCode(context.Background(), "completely unknown syndrome")
	if ok || code != "" {
		t.Errorf("code = %q ok = %v, want empty false", code, ok)
	}
}

func TestFallbackOrderingPrefersSpecificTerms(t *testing.T) {
	r := newTestResolver(&stubSearcher{}, nil)

	code, ok := r.ResolveDiagnosisCode(context.Background(), "Family history of heart disease")
	if !ok || code != "Z82.49" {
		t.Errorf("code = %q ok = %v, want Z82.49 true", code, ok)
	}

	code, ok = r.ResolveDiagnosisCode(context.Background(), "Family history of asthma")
	if !ok || code != "Z82.79" {
		t.Errorf("code = %q ok = %v, want generic Z82.79 true", code, ok)
	}
}

func TestResolveMedicationCodeExactMatch(t *testing.T) {
	r := newTestResolver(nil, &stubLookup{exact: "29046"})

	code, ok := r.ResolveMedicationCode(context.Background(), " Lisinopril ")
	if !ok || code != "29046" {
		t.Errorf("code = %q ok = %v, want 29046 true", code, ok)
	}
}

func TestResolveMedicationCodeApproximateMatch(t *testing.T) {
	r := newTestResolver(nil, &stubLookup{
		approximate: []Candidate{{Code: "6809", Display: "metformin"}},
	})

	code, ok := r.ResolveMedicationCode(context.Background(), "metformn")
	if !ok || code != "6809" {
		t.Errorf("code = %q ok = %v, want 6809 true", code, ok)
	}
}

func TestResolveMedicationCodeFallback(t *testing.T) {
	r := newTestResolver(nil, &stubLookup{
		exactErr: errors.New("service unavailable"),
	})

	code, ok := r.ResolveMedicationCode(context.Background(), "Aspirin 81mg")
	if !ok || code != "1191" {
		t.Errorf("code = %q ok = %v, want 1191 true", code, ok)
	}
}

func TestEnrichDiagnosesFillsMissingCodes(t *testing.T) {
	r := newTestResolver(&stubSearcher{}, nil)
	existing := "I10"

	diagnoses := r.EnrichDiagnoses(context.Background(), []clinical.Diagnosis{
		{Description: "Hypertension", ICDCode: &existing},
		{Description: "Type 2 Diabetes"},
		{Description: "unknown syndrome"},
	})

	if *diagnoses[0].ICDCode != "I10" {
		t.Errorf("existing code changed: %v", *diagnoses[0].ICDCode)
	}
	if diagnoses[1].ICDCode == nil || *diagnoses[1].ICDCode != "E11.9" {
		t.Errorf("diagnosis not enriched: %+v", diagnoses[1])
	}
	if diagnoses[2].ICDCode != nil {
		t.Errorf("unknown diagnosis got code %q, want none", *diagnoses[2].ICDCode)
	}
}

func TestEnrichDiagnosesEmptyInput(t *testing.T) {
	searcher := &stubSearcher{}
	r := newTestResolver(searcher, nil)

	out := r.EnrichDiagnoses(context.Background(), []clinical.Diagnosis{})
	if len(out) != 0 {
		t.Errorf("output = %+v, want empty", out)
	}
	if searcher.calls != 0 {
		t.Errorf("search calls = %d, want 0", searcher.calls)
	}
}

func TestEnrichMedicationsFillsMissingCodes(t *testing.T) {
	r := newTestResolver(nil, &stubLookup{exact: "29046"})

	medications := r.EnrichMedications(context.Background(), []clinical.Medication{
		{Name: "Lisinopril"},
	})
	if medications[0].RxNormCode == nil || *medications[0].RxNormCode != "29046" {
		t.Errorf("medication not enriched: %+v", medications[0])
	}
}

func TestPickCandidateLimitsScan(t *testing.T) {
	candidates := []Candidate{
		{Code: "A", Display: "nothing alike one"},
		{Code: "B", Display: "nothing alike two"},
		{Code: "C", Display: "nothing alike three"},
		{Code: "I10", Display: "essential hypertension"},
	}
	if code, ok := pickCandidate("hypertension", candidates); ok {
		t.Errorf("picked %q beyond the scan window, want no match", code)
	}
}

func TestPickCandidateSkipsEmptyFields(t *testing.T) {
	candidates := []Candidate{
		{Code: "", Display: "hypertension"},
		{Code: "I10", Display: ""},
		{Code: "I10", Display: "essential hypertension"},
	}
	code, ok := pickCandidate("hypertension", candidates)
	if !ok || code != "I10" {
		t.Errorf("code = %q ok = %v, want I10 true", code, ok)
	}
}

func newTestMetrics() *metrics.Metrics {
	return &metrics.Metrics{
		CodesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codes_resolved_total",
		}, []string{"system"}),
		LookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "lookup_duration_seconds",
		}),
	}
}

func TestResolverCountsResolvedCodes(t *testing.T) {
	searcher := &stubSearcher{candidates: []Candidate{
		{Code: "I10", Display: "Essential (primary) hypertension"},
	}}
	m := newTestMetrics()
	r := NewResolver(searcher, &stubLookup{}, nil, nil, m, zap.NewNop())

	if _, ok := r.ResolveDiagnosisCode(context.Background(), "Hypertension"); !ok {
		t.Fatal("diagnosis did not resolve")
	}
	// Medication resolves through the static fallback; still a resolution.
	if _, ok := r.ResolveMedicationCode(context.Background(), "Aspirin 81mg"); !ok {
		t.Fatal("medication did not resolve")
	}
	if _, ok := r.ResolveDiagnosisCode(context.Background(), "completely unknown"); ok {
		t.Fatal("unknown term unexpectedly resolved")
	}

	if got := testutil.ToFloat64(m.CodesResolved.WithLabelValues("icd10")); got != 1 {
		t.Errorf("icd10 resolutions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CodesResolved.WithLabelValues("rxnorm")); got != 1 {
		t.Errorf("rxnorm resolutions = %v, want 1", got)
	}
}
