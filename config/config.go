package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"time"

	"github.com/missionMeteora/mandrill"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrBadSplit      = errors.New("milestone split must sum to 1")
)

func New(loc string) (*Config, error) {
	var c Config

	f, err := os.Open(loc)
	if err != nil {
		log.Println("Config error", err)
		return nil, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&c); err != nil {
		log.Println("Config error", err)
		return nil, err
	}

	if err := c.sanity(); err != nil {
		return nil, err
	}

	return &c, nil
}

type Config struct {
	Host string `json:"host"`
	Port string `json:"port"`

	DBPath string `json:"dbPath"`
	DBName string `json:"dbName"`

	Sandbox bool `json:"sandbox"`

	AdminEmail string `json:"adminEmail"`

	Classify struct {
		Endpoint string `json:"endpoint"`
		Key      string `json:"key"`
		Timeout  int32  `json:"timeout"` // In seconds
	} `json:"classify"`

	Render struct {
		Endpoint string `json:"endpoint"`
		Key      string `json:"key"`
		Timeout  int32  `json:"timeout"` // In seconds
	} `json:"render"`

	Stripe struct {
		Key string `json:"key"`
	} `json:"stripe"`

	Mandrill struct {
		APIKey     string `json:"apiKey"`
		ReplyKey   string `json:"replyKey"`
		SubAccount string `json:"subAccount"`
		FromEmail  string `json:"fromEmail"`
		FromName   string `json:"fromName"`
	} `json:"mandrill"`

	Policy Policy `json:"policy"`

	Bucket struct {
		Deal              string   `json:"deal"`
		Communication     string   `json:"communication"`
		Escalation        string   `json:"escalation"`
		EscalationPending string   `json:"escalationPending"`
		Contract          string   `json:"contract"`
		ContractIndex     string   `json:"contractIndex"`
		Milestone         string   `json:"milestone"`
		Payment           string   `json:"payment"`
		All               []string `json:"all"`
	} `json:"bucket"`

	mailClient      *mandrill.Client
	replyMailClient *mandrill.Client
}

// Policy holds the knobs the business has not pinned down yet. The defaults
// mirror what ops runs with today.
type Policy struct {
	// Proposals above MaxBudget * OverBudgetMultiplier always go to a human
	OverBudgetMultiplier float64 `json:"overBudgetMultiplier"`

	// Used when terms extraction fails; entries are fractions of the total
	DefaultMilestoneSplit []float64 `json:"defaultMilestoneSplit"`

	MaxTransportAttempts int   `json:"maxTransportAttempts"`
	TransportRetryWait   int32 `json:"transportRetryWait"` // In seconds

	InvoiceSweep int32 `json:"invoiceSweep"` // In minutes
}

func (c *Config) sanity() error {
	if c.DBName == "" {
		return ErrInvalidConfig
	}

	if c.Policy.OverBudgetMultiplier == 0 {
		c.Policy.OverBudgetMultiplier = 1.2
	}

	if len(c.Policy.DefaultMilestoneSplit) == 0 {
		c.Policy.DefaultMilestoneSplit = []float64{0.5, 0.5}
	}

	var total float64
	for _, part := range c.Policy.DefaultMilestoneSplit {
		if part <= 0 {
			return ErrBadSplit
		}
		total += part
	}
	if total < 0.999 || total > 1.001 {
		return ErrBadSplit
	}

	if c.Policy.MaxTransportAttempts == 0 {
		c.Policy.MaxTransportAttempts = 3
	}

	if c.Policy.TransportRetryWait == 0 {
		c.Policy.TransportRetryWait = 2
	}

	if c.Policy.InvoiceSweep == 0 {
		c.Policy.InvoiceSweep = 30
	}

	b := &c.Bucket
	if b.Deal == "" {
		b.Deal = "deal"
	}
	if b.Communication == "" {
		b.Communication = "communication"
	}
	if b.Escalation == "" {
		b.Escalation = "escalation"
	}
	if b.EscalationPending == "" {
		b.EscalationPending = "escalationPending"
	}
	if b.Contract == "" {
		b.Contract = "contract"
	}
	if b.ContractIndex == "" {
		b.ContractIndex = "contractIndex"
	}
	if b.Milestone == "" {
		b.Milestone = "milestone"
	}
	if b.Payment == "" {
		b.Payment = "payment"
	}
	b.All = []string{b.Deal, b.Communication, b.Escalation, b.EscalationPending,
		b.Contract, b.ContractIndex, b.Milestone, b.Payment}

	return nil
}

func (c *Config) MailClient() *mandrill.Client {
	if c.mailClient == nil && c.Mandrill.APIKey != "" {
		c.mailClient = mandrill.New(c.Mandrill.APIKey, c.Mandrill.SubAccount,
			c.Mandrill.FromEmail, c.Mandrill.FromName)
	}
	return c.mailClient
}

func (c *Config) ReplyMailClient() *mandrill.Client {
	if c.replyMailClient == nil && c.Mandrill.ReplyKey != "" {
		c.replyMailClient = mandrill.New(c.Mandrill.ReplyKey, c.Mandrill.SubAccount,
			c.Mandrill.FromEmail, c.Mandrill.FromName)
	}
	return c.replyMailClient
}

func (c *Config) ClassifyTimeout() time.Duration {
	if c.Classify.Timeout == 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Classify.Timeout) * time.Second
}

func (c *Config) RenderTimeout() time.Duration {
	if c.Render.Timeout == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Render.Timeout) * time.Second
}
