package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/swayops/dealflow/config"
	"github.com/swayops/dealflow/internal/common"
)

var (
	ErrUnavailable = errors.New("classification service unavailable")
	ErrResponse    = errors.New("empty classification response")
)

// Client talks to the reply-classification service. Every call is bounded by
// the configured timeout; callers treat any error as a cue to use the
// rule-based fallback.
type Client struct {
	endpoint string
	key      string
	client   *http.Client
}

func New(cfg *config.Config) *Client {
	return &Client{
		endpoint: cfg.Classify.Endpoint,
		key:      cfg.Classify.Key,
		client:   &http.Client{Timeout: cfg.ClassifyTimeout()},
	}
}

type historyEntry struct {
	Direction string `json:"direction"`
	Content   string `json:"content"`
	Timestamp int32  `json:"timestamp"`
}

type classifyRequest struct {
	History []historyEntry `json:"history"`
	Reply   string         `json:"reply"`
}

type classifyResponse struct {
	Classification *common.Classification `json:"classification"`
	ErrorMsg       string                 `json:"error,omitempty"`
}

func (c *Client) Classify(history []*common.CommunicationRecord, reply string) (*common.Classification, error) {
	if c.endpoint == "" {
		return nil, ErrUnavailable
	}

	var out classifyResponse
	if err := c.post(c.endpoint, &classifyRequest{History: toEntries(history), Reply: reply}, &out); err != nil {
		return nil, err
	}

	if out.ErrorMsg != "" {
		return nil, errors.New(out.ErrorMsg)
	}
	if out.Classification == nil {
		return nil, ErrResponse
	}

	return out.Classification, nil
}

type termsRequest struct {
	History  []historyEntry            `json:"history"`
	Strategy *common.Strategy          `json:"strategy,omitempty"`
	Budget   *common.BudgetConstraints `json:"budget,omitempty"`
}

type termsResponse struct {
	Terms    *common.TermsSnapshot `json:"terms"`
	ErrorMsg string                `json:"error,omitempty"`
}

// ExtractTerms asks the same service for the structured commercial terms of
// an agreed deal. Invalid output is the caller's cue for the default split.
func (c *Client) ExtractTerms(deal *common.Deal, history []*common.CommunicationRecord) (*common.TermsSnapshot, error) {
	if c.endpoint == "" {
		return nil, ErrUnavailable
	}

	var out termsResponse
	req := &termsRequest{History: toEntries(history), Strategy: deal.Strategy, Budget: deal.Budget}
	if err := c.post(c.endpoint+"/terms", req, &out); err != nil {
		return nil, err
	}

	if out.ErrorMsg != "" {
		return nil, errors.New(out.ErrorMsg)
	}
	if out.Terms == nil {
		return nil, ErrResponse
	}

	return out.Terms, nil
}

func (c *Client) post(endpoint string, in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrUnavailable
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func toEntries(history []*common.CommunicationRecord) []historyEntry {
	entries := make([]historyEntry, 0, len(history))
	for _, rec := range history {
		entries = append(entries, historyEntry{
			Direction: rec.Direction,
			Content:   rec.RawContent,
			Timestamp: rec.Timestamp,
		})
	}
	return entries
}
