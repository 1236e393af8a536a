package common

// This deal represents one negotiation thread between
// a campaign and a creator. Do NOT confuse this with
// a Campaign
type Deal struct {
	Id         string `json:"id"`
	CampaignId string `json:"campaignId"`
	CreatorId  string `json:"creatorId"`

	CreatorName  string `json:"creatorName,omitempty"`
	CreatorEmail string `json:"creatorEmail,omitempty"`

	// The brand's gateway customer, set at campaign onboarding
	BillingCustomerId string `json:"billingCustomerId,omitempty"`

	Stage string `json:"stage"`

	Budget *BudgetConstraints `json:"budget"`

	LatestClassification *Classification `json:"latestClassification,omitempty"`
	Strategy             *Strategy       `json:"strategy,omitempty"`

	CreatedAt int32 `json:"createdAt,omitempty"` // Timestamp for when outreach was first sent
	UpdatedAt int32 `json:"updatedAt,omitempty"`
}

type BudgetConstraints struct {
	MaxBudget float64 `json:"maxBudget"`
	Currency  string  `json:"currency"`
}

const (
	DealInitiated        = "initiated"
	DealInNegotiation    = "in_negotiation"
	DealReadyForContract = "ready_for_contract"
	DealPendingReview    = "pending_human_review"
	DealDeclined         = "declined"
	DealContractCreated  = "contract_created"
	DealError            = "error"
)

// Stages only ever move forward; declined, contract_created and error are
// terminal. A stage missing from the map is terminal.
var stageTransitions = map[string][]string{
	DealInitiated:        {DealInNegotiation, DealReadyForContract, DealPendingReview, DealDeclined, DealError},
	DealInNegotiation:    {DealInNegotiation, DealReadyForContract, DealPendingReview, DealDeclined, DealError},
	DealPendingReview:    {DealInNegotiation, DealReadyForContract, DealDeclined, DealError},
	DealReadyForContract: {DealContractCreated, DealError},
}

func (d *Deal) IsTerminal() bool {
	switch d.Stage {
	case DealDeclined, DealContractCreated, DealError:
		return true
	}
	return false
}

func (d *Deal) CanTransition(to string) bool {
	for _, next := range stageTransitions[d.Stage] {
		if next == to {
			return true
		}
	}
	return false
}

func (d *Deal) Transition(to string) error {
	if !d.CanTransition(to) {
		return ErrStageTransition
	}
	d.Stage = to
	return nil
}
