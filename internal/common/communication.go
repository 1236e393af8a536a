package common

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// CommunicationRecord is an append-only log entry; records are never mutated
// or deleted, and timestamp order is the conversation history fed back into
// classification.
type CommunicationRecord struct {
	Id     string `json:"id"`
	DealId string `json:"dealId"`

	Direction  string `json:"direction"`
	RawContent string `json:"rawContent"`

	// Snapshot taken at classification time for inbound records
	Classification *Classification `json:"classification,omitempty"`

	// Outbound only
	DeliveryId string `json:"deliveryId,omitempty"`
	Failed     bool   `json:"failed,omitempty"` // send attempts exhausted

	Timestamp int32 `json:"timestamp"`
}
