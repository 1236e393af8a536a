package docrender

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/swayops/dealflow/config"
	"github.com/swayops/dealflow/internal/common"
)

var (
	ErrUnavailable = errors.New("document service unavailable")
	ErrResponse    = errors.New("empty render response")
)

// Client asks the document service to render a contract for a terms
// snapshot. Rendering is best effort from the engine's point of view; the
// contract is valid before the document exists.
type Client struct {
	endpoint string
	key      string
	client   *http.Client
}

func New(cfg *config.Config) *Client {
	return &Client{
		endpoint: cfg.Render.Endpoint,
		key:      cfg.Render.Key,
		client:   &http.Client{Timeout: cfg.RenderTimeout()},
	}
}

type renderResponse struct {
	DocumentURL string `json:"documentUrl"`
	ErrorMsg    string `json:"error,omitempty"`
}

func (c *Client) RenderContract(terms *common.TermsSnapshot) (string, error) {
	if c.endpoint == "" {
		return "", ErrUnavailable
	}

	b, err := json.Marshal(terms)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest("POST", c.endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ErrUnavailable
	}

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}

	if out.ErrorMsg != "" {
		return "", errors.New(out.ErrorMsg)
	}
	if out.DocumentURL == "" {
		return "", ErrResponse
	}

	return out.DocumentURL, nil
}
