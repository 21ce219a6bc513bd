package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/mjv57/medical-doc-processor/pkg/circuitbreaker"
)

// MedicationLookup is the RxNorm lookup contract: an exact name lookup plus
// an approximate-match search used when the exact lookup comes back empty.
type MedicationLookup interface {
	RxCUI(ctx context.Context, name string) (string, error)
	Approximate(ctx context.Context, term string, maxEntries int) ([]Candidate, error)
}

// DefaultRxNavURL is the NIH RxNav REST API base.
const DefaultRxNavURL = "https://rxnav.nlm.nih.gov/REST"

// RxNavClient queries the NIH RxNav service for RxNorm concept identifiers.
type RxNavClient struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewRxNavClient creates a client with retry, timeout, and circuit breaker
// protection.
func NewRxNavClient(baseURL string, logger *zap.Logger) (*RxNavClient, error) {
	if baseURL == "" {
		baseURL = DefaultRxNavURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("rxnav"), logger)
	if err != nil {
		return nil, err
	}

	return &RxNavClient{
		baseURL: baseURL,
		client:  newRetryingClient(),
		breaker: breaker,
		logger:  logger,
	}, nil
}

// RxCUI returns the canonical RxNorm identifier for an exact medication
// name, or "" when the service knows no such concept.
func (c *RxNavClient) RxCUI(ctx context.Context, name string) (string, error) {
	query := url.Values{}
	query.Set("name", name)

	body, err := c.get(ctx, c.baseURL+"/rxcui.json?"+query.Encode())
	if err != nil {
		return "", err
	}

	var payload struct {
		IDGroup struct {
			RxNormID []string `json:"rxnormId"`
		} `json:"idGroup"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode rxcui response: %w", err)
	}
	if len(payload.IDGroup.RxNormID) == 0 {
		return "", nil
	}
	return payload.IDGroup.RxNormID[0], nil
}

// Approximate returns ranked approximate-match candidates for a medication
// term. Candidates without an identifier are dropped.
func (c *RxNavClient) Approximate(ctx context.Context, term string, maxEntries int) ([]Candidate, error) {
	query := url.Values{}
	query.Set("term", term)
	query.Set("maxEntries", strconv.Itoa(maxEntries))

	body, err := c.get(ctx, c.baseURL+"/approximateTerm.json?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var payload struct {
		ApproximateGroup struct {
			Candidate []struct {
				RxCUI string `json:"rxcui"`
				Name  string `json:"name"`
			} `json:"candidate"`
		} `json:"approximateGroup"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode approximate response: %w", err)
	}

	candidates := make([]Candidate, 0, len(payload.ApproximateGroup.Candidate))
	for _, entry := range payload.ApproximateGroup.Candidate {
		if entry.RxCUI == "" {
			continue
		}
		candidates = append(candidates, Candidate{Code: entry.RxCUI, Display: entry.Name})
	}
	return candidates, nil
}

func (c *RxNavClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	result, err := c.breaker.Execute(ctx, func() (any, error) {
		return doGet(ctx, c.client, rawURL)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
