package mail

import (
	"errors"
	"fmt"
	"time"

	"github.com/swayops/dealflow/config"
	"github.com/swayops/dealflow/internal/common"
	"github.com/swayops/dealflow/misc"
)

var (
	ErrNoAddress = errors.New("deal has no creator email")
	ErrTransport = errors.New("message delivery failed")
)

// Client delivers deal messages through mandrill. Transient failures are
// retried with a linear backoff up to the configured bound; after that the
// attempt is reported failed and the caller decides what to record.
type Client struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Client {
	return &Client{cfg: cfg}
}

func (c *Client) SendMessage(deal *common.Deal, content string) (string, error) {
	if c.cfg.Sandbox || c.cfg.ReplyMailClient() == nil {
		return "sb-" + misc.PseudoUUID(), nil
	}

	if deal.CreatorEmail == "" {
		return "", ErrNoAddress
	}

	subject := fmt.Sprintf("Collaboration update for campaign %s", deal.CampaignId)
	wait := time.Duration(c.cfg.Policy.TransportRetryWait) * time.Second

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Policy.MaxTransportAttempts; attempt++ {
		resp, err := c.cfg.ReplyMailClient().SendMessage(content, subject, deal.CreatorEmail, deal.CreatorName,
			[]string{"deal-" + deal.Id})
		if err == nil && len(resp) == 1 && resp[0].RejectReason == "" {
			return misc.PseudoUUID(), nil
		}

		if err != nil {
			lastErr = err
		} else if len(resp) == 1 && resp[0].RejectReason != "" {
			// a hard reject won't get better with retries
			return "", fmt.Errorf("message rejected: %s", resp[0].RejectReason)
		} else {
			lastErr = ErrTransport
		}

		if attempt < c.cfg.Policy.MaxTransportAttempts {
			time.Sleep(time.Duration(attempt) * wait)
		}
	}

	return "", lastErr
}
