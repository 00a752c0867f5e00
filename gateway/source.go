package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"custodia/crypto"
)

// Observation is a freshness-stamped composite trust score for an agent.
type Observation struct {
	Score      uint8
	ObservedAt time.Time
}

// TrustSource supplies observations from the off-protocol scoring pipeline.
// The gateway owns freshness validation; the ledger never sees a stale score
// because a stale observation is rejected here before any ledger call.
type TrustSource interface {
	Score(ctx context.Context, agent [20]byte) (Observation, error)
}

// ErrStaleScore marks observations older than the configured maximum age.
var ErrStaleScore = errors.New("gateway: trust score observation is stale")

// StaticSource returns a fixed observation for every agent. Test helper.
type StaticSource struct {
	Observation Observation
	Err         error
}

// Score implements TrustSource.
func (s StaticSource) Score(ctx context.Context, agent [20]byte) (Observation, error) {
	if s.Err != nil {
		return Observation{}, s.Err
	}
	return s.Observation, nil
}

// HTTPSource fetches observations from a scoring service. The endpoint is
// expected to answer GET {base}/scores/{address} with a JSON body of the form
// {"score": 72, "observedAt": "2026-01-02T15:04:05Z"}.
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource builds a source against the given base URL.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		base:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type scoreResponse struct {
	Score      uint8     `json:"score"`
	ObservedAt time.Time `json:"observedAt"`
}

// Score implements TrustSource.
func (s *HTTPSource) Score(ctx context.Context, agent [20]byte) (Observation, error) {
	url := fmt.Sprintf("%s/scores/%s", s.base, crypto.MustNewAddress(agent[:]).String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Observation{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Observation{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Observation{}, fmt.Errorf("gateway: score fetch returned status %d", resp.StatusCode)
	}
	var body scoreResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return Observation{}, fmt.Errorf("gateway: decode score response: %w", err)
	}
	return Observation{Score: body.Score, ObservedAt: body.ObservedAt}, nil
}
