package common

import "errors"

const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"

	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"

	PotentialLow    = "low"
	PotentialMedium = "medium"
	PotentialHigh   = "high"
)

var (
	ErrNoSentiment  = errors.New("classification missing sentiment")
	ErrBadSentiment = errors.New("unrecognized sentiment")
	ErrBadAmount    = errors.New("proposed amount cannot be negative")
)

// Classification is the structured read of a free-text reply. It always comes
// from an external service or the rule-based fallback, never from the engine
// interpreting content itself.
type Classification struct {
	Sentiment            string  `json:"sentiment"`
	ProposedAmount       float64 `json:"proposedAmount,omitempty"`
	Timeline             string  `json:"timeline,omitempty"`
	OpenToNegotiation    bool    `json:"openToNegotiation,omitempty"`
	RiskLevel            string  `json:"riskLevel,omitempty"`
	NegotiationPotential string  `json:"negotiationPotential,omitempty"`

	// Set when the rule-based classifier produced this instead of the service
	Fallback bool `json:"fallback,omitempty"`
}

func (cl *Classification) Validate() error {
	if cl == nil || cl.Sentiment == "" {
		return ErrNoSentiment
	}

	switch cl.Sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		return ErrBadSentiment
	}

	if cl.ProposedAmount < 0 {
		return ErrBadAmount
	}

	return nil
}

// Malformed optional fields default rather than propagate.
func (cl *Classification) ApplyDefaults() {
	switch cl.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		cl.RiskLevel = RiskMedium
	}

	switch cl.NegotiationPotential {
	case PotentialLow, PotentialMedium, PotentialHigh:
	default:
		cl.NegotiationPotential = PotentialMedium
	}
}
