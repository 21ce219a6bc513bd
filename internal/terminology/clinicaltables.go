// Package terminology resolves free-text clinical terms to standard codes:
// ICD-10-CM for diagnoses and RxNorm for medications. Lookups run through a
// three-tier strategy (authoritative service, approximate service, static
// fallback table) and a lookup failure is never allowed to escape past the
// resolver boundary.
package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mjv57/medical-doc-processor/pkg/circuitbreaker"
)

// Candidate is one ranked match returned by a terminology search service.
type Candidate struct {
	Code    string
	Display string
}

// DiagnosisSearcher is the authoritative diagnosis code search contract.
type DiagnosisSearcher interface {
	Search(ctx context.Context, term string, maxResults int) ([]Candidate, error)
}

// DefaultClinicalTablesURL is the NIH Clinical Tables ICD-10-CM search API.
const DefaultClinicalTablesURL = "https://clinicaltables.nlm.nih.gov/api/icd10cm/v3/search"

// ClinicalTablesClient queries the NIH Clinical Tables ICD-10-CM search
// service. All failures surface as errors; the resolver maps them to
// "unresolved".
type ClinicalTablesClient struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClinicalTablesClient creates a client with retry, timeout, and circuit
// breaker protection.
func NewClinicalTablesClient(baseURL string, logger *zap.Logger) (*ClinicalTablesClient, error) {
	if baseURL == "" {
		baseURL = DefaultClinicalTablesURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("clinical-tables"), logger)
	if err != nil {
		return nil, err
	}

	return &ClinicalTablesClient{
		baseURL: baseURL,
		client:  newRetryingClient(),
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Search returns ranked (display, code) candidates for a diagnosis term.
func (c *ClinicalTablesClient) Search(ctx context.Context, term string, maxResults int) ([]Candidate, error) {
	query := url.Values{}
	query.Set("terms", term)
	query.Set("maxList", strconv.Itoa(maxResults))

	body, err := c.get(ctx, c.baseURL+"?"+query.Encode())
	if err != nil {
		return nil, err
	}

	// The service answers with a positional array:
	// [total, codes, extra, [[display, code], ...]].
	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(payload) < 4 {
		return nil, fmt.Errorf("unexpected search response shape: %d elements", len(payload))
	}

	var total int
	if err := json.Unmarshal(payload[0], &total); err != nil {
		return nil, fmt.Errorf("decode result count: %w", err)
	}
	if total <= 0 {
		return nil, nil
	}

	var rows [][]string
	if err := json.Unmarshal(payload[3], &rows); err != nil {
		return nil, fmt.Errorf("decode result rows: %w", err)
	}

	candidates := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		candidates = append(candidates, Candidate{Display: row[0], Code: row[1]})
	}
	return candidates, nil
}

func (c *ClinicalTablesClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	result, err := c.breaker.Execute(ctx, func() (any, error) {
		return doGet(ctx, c.client, rawURL)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// newRetryingClient builds the shared HTTP client shape for terminology
// services: short per-call timeout, a couple of retries for transient
// failures, no retry noise in the logs.
func newRetryingClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	rc.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	return rc.StandardClient()
}

func doGet(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}
