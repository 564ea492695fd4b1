// Package rerank provides a reranker client: given a query and a set of
// candidate texts, it asks a remote cross-encoder for a fresh relevance
// ordering. It never fails the caller's enclosing request — a provider
// error degrades to the candidates unchanged.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/config"
	"github.com/aletheia-kb/aletheia/pkg/httpclient"
)

// Candidate is one item to be reranked.
type Candidate struct {
	ID       string
	Text     string
	Type     string    // document type, for the metadata boost
	Created  time.Time // for the recency decay boost
	Score    float64   // pre-rerank score, replaced by the reranker's score
	Metadata map[string]any
}

// Client reranks candidates against a query using a remote rerank model
// (Cohere's Rerank API request/response shape).
type Client struct {
	http     *httpclient.Client
	endpoint string
	apiKey   string
	model    string
}

// New builds a Client from the reranker configuration.
func New(cfg config.RerankerConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, apperr.ConfigMissing("rerank", "New", "API key is required for the reranker")
	}
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = "https://api.cohere.com/v2/rerank"
	}
	return &Client{
		http:     httpclient.New(),
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
	}, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank reorders candidates by relevance to query, optionally truncating to
// topN. On any provider error it logs and returns candidates unchanged,
// since a degraded ranking is preferable to a failed search.
func (c *Client) Rerank(ctx context.Context, query string, candidates []Candidate, topN int) []Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	scored, err := c.score(ctx, query, candidates)
	if err != nil {
		slog.Warn("rerank failed, returning candidates unchanged", "error", err)
		return candidates
	}
	return truncate(scored, topN)
}

func (c *Client) score(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	documents := make([]string, len(candidates))
	for i, cand := range candidates {
		documents[i] = cand.Text
	}

	body, err := json.Marshal(rerankRequest{Model: c.model, Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("rerank: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rerank: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.RemoteUnavailable("rerank", "score", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.RemoteBadResponse("rerank", "score", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.RemoteBadResponse("rerank", "score", "invalid response body", err)
	}

	out := make([]Candidate, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		cand := candidates[r.Index]
		cand.Score = clamp01(r.RelevanceScore)
		out = append(out, cand)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// typeBoost is a per-type multiplicative weight applied in ApplyMetadataBoost,
// favoring curated documentation over looser research notes when scores tie.
var typeBoost = map[string]float64{
	"documentation": 1.15,
	"project":       1.05,
	"research":      1.0,
	"philosophy":    0.95,
}

// recencyHalfLife is the exponential decay half-life for ApplyMetadataBoost's
// recency factor.
const recencyHalfLife = 180 * 24 * time.Hour

// ApplyMetadataBoost multiplies each candidate's score by its type's boost
// factor and an exponential recency decay, then re-sorts by the boosted
// score. Candidates with a zero Created time are not decayed.
func ApplyMetadataBoost(candidates []Candidate, now time.Time) []Candidate {
	boosted := make([]Candidate, len(candidates))
	copy(boosted, candidates)

	for i := range boosted {
		factor := typeBoost[boosted[i].Type]
		if factor == 0 {
			factor = 1.0
		}
		if !boosted[i].Created.IsZero() {
			age := now.Sub(boosted[i].Created)
			factor *= math.Exp(-math.Ln2 * float64(age) / float64(recencyHalfLife))
		}
		boosted[i].Score = clamp01(boosted[i].Score * factor)
	}

	sort.SliceStable(boosted, func(i, j int) bool { return boosted[i].Score > boosted[j].Score })
	return boosted
}

// AverageMultiQuery merges reranked candidate sets from several query
// variants by averaging the score of each candidate ID across every set it
// appears in, then re-sorts by the averaged score.
func AverageMultiQuery(sets [][]Candidate) []Candidate {
	sums := map[string]float64{}
	counts := map[string]int{}
	byID := map[string]Candidate{}

	for _, set := range sets {
		for _, cand := range set {
			sums[cand.ID] += cand.Score
			counts[cand.ID]++
			if _, ok := byID[cand.ID]; !ok {
				byID[cand.ID] = cand
			}
		}
	}

	out := make([]Candidate, 0, len(byID))
	for id, cand := range byID {
		cand.Score = clamp01(sums[id] / float64(counts[id]))
		out = append(out, cand)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func truncate(candidates []Candidate, topN int) []Candidate {
	if topN <= 0 || topN >= len(candidates) {
		return candidates
	}
	return candidates[:topN]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
