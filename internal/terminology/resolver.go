package terminology

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mjv57/medical-doc-processor/internal/clinical"
	"github.com/mjv57/medical-doc-processor/internal/observability/metrics"
	"github.com/mjv57/medical-doc-processor/pkg/ratelimit"
)

// maxServiceCandidates bounds how many ranked service matches are examined
// per term.
const maxServiceCandidates = 3

// Coding system labels for resolution metrics.
const (
	systemICD10  = "icd10"
	systemRxNorm = "rxnorm"
)

// Resolver turns free-text diagnosis and medication terms into standard
// codes. All failure modes of the external services (timeouts, non-2xx
// responses, malformed bodies, open circuits) collapse to "no code found";
// Resolve methods never return an error.
type Resolver struct {
	diagnoses   DiagnosisSearcher
	medications MedicationLookup

	// One limiter per provider, preserving the mandated spacing between
	// calls to the same service.
	diagnosisLimiter  *ratelimit.Limiter
	medicationLimiter *ratelimit.Limiter

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewResolver creates a resolver over the given service clients. Limiters
// and metrics may be nil to disable call spacing and instrumentation (tests).
func NewResolver(diagnoses DiagnosisSearcher, medications MedicationLookup, diagnosisLimiter, medicationLimiter *ratelimit.Limiter, m *metrics.Metrics, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		diagnoses:         diagnoses,
		medications:       medications,
		diagnosisLimiter:  diagnosisLimiter,
		medicationLimiter: medicationLimiter,
		metrics:           m,
		logger:            logger,
	}
}

// ResolveDiagnosisCode finds an ICD-10 code for a diagnosis description.
// Tier 1 is the authoritative search service; diagnoses have no approximate
// service, so on a miss the resolver goes straight to the static fallback
// table.
func (r *Resolver) ResolveDiagnosisCode(ctx context.Context, description string) (string, bool) {
	if r.diagnoses != nil {
		if err := r.wait(ctx, r.diagnosisLimiter); err != nil {
			return "", false
		}
		start := time.Now()
		candidates, err := r.diagnoses.Search(ctx, description, 5)
		r.observeLookup(start)
		if err != nil {
			r.logger.Warn("diagnosis code search failed",
				zap.String("description", description),
				zap.Error(err))
		} else if code, ok := pickCandidate(description, candidates); ok {
			r.countResolved(systemICD10)
			return code, true
		}
	}

	if code, ok := matchFallback(description, diagnosisFallbacks); ok {
		r.countResolved(systemICD10)
		return code, true
	}
	return "", false
}

// ResolveMedicationCode finds an RxNorm code for a medication name. Tier 1
// is the exact lookup, tier 2 the approximate-match search, tier 3 the
// static fallback table.
func (r *Resolver) ResolveMedicationCode(ctx context.Context, name string) (string, bool) {
	name = strings.TrimSpace(name)

	if r.medications != nil {
		if err := r.wait(ctx, r.medicationLimiter); err != nil {
			return "", false
		}
		start := time.Now()
		code, err := r.medications.RxCUI(ctx, name)
		r.observeLookup(start)
		if err != nil {
			r.logger.Warn("medication code lookup failed",
				zap.String("name", name),
				zap.Error(err))
		} else if code != "" {
			r.countResolved(systemRxNorm)
			return code, true
		} else {
			if err := r.wait(ctx, r.medicationLimiter); err != nil {
				return "", false
			}
			start = time.Now()
			candidates, err := r.medications.Approximate(ctx, name, maxServiceCandidates)
			r.observeLookup(start)
			if err != nil {
				r.logger.Warn("medication approximate search failed",
					zap.String("name", name),
					zap.Error(err))
			} else if len(candidates) > 0 && candidates[0].Code != "" {
				r.countResolved(systemRxNorm)
				return candidates[0].Code, true
			}
		}
	}

	if code, ok := matchFallback(name, medicationFallbacks); ok {
		r.countResolved(systemRxNorm)
		return code, true
	}
	return "", false
}

// EnrichDiagnoses resolves codes for every diagnosis missing one. A lookup
// failure on one item leaves that item uncoded and moves on. The input
// slice is returned with codes filled in place.
func (r *Resolver) EnrichDiagnoses(ctx context.Context, diagnoses []clinical.Diagnosis) []clinical.Diagnosis {
	if len(diagnoses) == 0 {
		return diagnoses
	}

	found := 0
	for i := range diagnoses {
		if diagnoses[i].ICDCode != nil {
			found++
			continue
		}
		if code, ok := r.ResolveDiagnosisCode(ctx, diagnoses[i].Description); ok {
			diagnoses[i].ICDCode = &code
			found++
		}
	}
	r.logger.Info("diagnosis enrichment complete",
		zap.Int("total", len(diagnoses)),
		zap.Int("coded", found))
	return diagnoses
}

// EnrichMedications resolves codes for every medication missing one,
// mirroring EnrichDiagnoses.
func (r *Resolver) EnrichMedications(ctx context.Context, medications []clinical.Medication) []clinical.Medication {
	if len(medications) == 0 {
		return medications
	}

	found := 0
	for i := range medications {
		if medications[i].RxNormCode != nil {
			found++
			continue
		}
		if code, ok := r.ResolveMedicationCode(ctx, medications[i].Name); ok {
			medications[i].RxNormCode = &code
			found++
		}
	}
	r.logger.Info("medication enrichment complete",
		zap.Int("total", len(medications)),
		zap.Int("coded", found))
	return medications
}

func (r *Resolver) countResolved(system string) {
	if r.metrics != nil {
		r.metrics.CodesResolved.WithLabelValues(system).Inc()
	}
}

func (r *Resolver) observeLookup(start time.Time) {
	if r.metrics != nil {
		r.metrics.LookupDuration.Observe(time.Since(start).Seconds())
	}
}

func (r *Resolver) wait(ctx context.Context, limiter *ratelimit.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// pickCandidate scans at most the first maxServiceCandidates matches and
// accepts the first whose display text overlaps the query: substring in
// either direction, or any shared whitespace-delimited token. Service order
// breaks ties.
func pickCandidate(query string, candidates []Candidate) (string, bool) {
	loweredQuery := strings.ToLower(query)
	tokens := strings.Fields(loweredQuery)

	for i, candidate := range candidates {
		if i >= maxServiceCandidates {
			break
		}
		display := strings.ToLower(candidate.Display)
		if display == "" || candidate.Code == "" {
			continue
		}
		if strings.Contains(display, loweredQuery) || strings.Contains(loweredQuery, display) {
			return candidate.Code, true
		}
		for _, token := range tokens {
			if strings.Contains(display, token) {
				return candidate.Code, true
			}
		}
	}
	return "", false
}

// matchFallback returns the code of the first table key that is a substring
// of the lowercased input. Tables are ordered most-specific-first.
func matchFallback(input string, table []fallbackEntry) (string, bool) {
	lowered := strings.ToLower(input)
	for _, entry := range table {
		if strings.Contains(lowered, entry.term) {
			return entry.code, true
		}
	}
	return "", false
}
