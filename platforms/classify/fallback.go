package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/swayops/dealflow/internal/common"
)

// Fallback is the deterministic rule-based classifier used whenever the
// service is down or returns garbage. It is conservative on purpose: the
// sentiment is neutral unless the reply is an unmistakable no, it never
// produces an auto-accept, and an unreadable amount is flagged high risk.
type Fallback struct{}

func NewFallback() Fallback { return Fallback{} }

var amountRe = regexp.MustCompile(`\$\s?([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)

var declinePhrases = []string{
	"not interested",
	"no thanks",
	"no thank you",
	"unsubscribe",
	"stop emailing",
	"don't contact",
	"do not contact",
}

func (Fallback) Classify(history []*common.CommunicationRecord, reply string) (*common.Classification, error) {
	cl := &common.Classification{
		Sentiment:            common.SentimentNeutral,
		OpenToNegotiation:    true,
		NegotiationPotential: common.PotentialMedium,
		RiskLevel:            common.RiskMedium,
	}

	lower := strings.ToLower(reply)
	for _, phrase := range declinePhrases {
		if strings.Contains(lower, phrase) {
			cl.Sentiment = common.SentimentNegative
			cl.NegotiationPotential = common.PotentialLow
			cl.OpenToNegotiation = false
			break
		}
	}

	if amount := parseAmount(reply); amount > 0 {
		cl.ProposedAmount = amount
	} else {
		// can't tell what they're asking for; a human-leaning posture is
		// safer than guessing
		cl.RiskLevel = common.RiskHigh
	}

	return cl, nil
}

func parseAmount(s string) float64 {
	m := amountRe.FindStringSubmatch(s)
	if len(m) < 2 {
		return 0
	}

	raw := strings.Replace(m[1], ",", "", -1)
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return amount
}
