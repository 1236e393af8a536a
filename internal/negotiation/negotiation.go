package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/swayops/dealflow/config"
	"github.com/swayops/dealflow/internal/common"
	"github.com/swayops/dealflow/internal/escalation"
	"github.com/swayops/dealflow/internal/strategy"
	"github.com/swayops/dealflow/misc"
)

var (
	ErrEmptyReply  = errors.New("reply text is empty")
	ErrMissingDeal = errors.New("campaign ID and creator ID are required")
	ErrNoBudget    = errors.New("deal requires budget constraints")
)

// Classifier turns a free-text reply plus conversation history into a
// structured classification. Implementations must return within a bounded
// timeout or fail explicitly.
type Classifier interface {
	Classify(history []*common.CommunicationRecord, reply string) (*common.Classification, error)
}

// Transport delivers an outbound message for a deal and returns a delivery id.
type Transport interface {
	SendMessage(deal *common.Deal, content string) (string, error)
}

// Engine owns every stage transition a deal goes through during negotiation.
// All mutations for one deal are serialized through the key lock; external
// calls (classification, transport) run outside any bolt transaction and the
// commit re-validates preconditions.
type Engine struct {
	db  *bolt.DB
	cfg *config.Config

	classifier Classifier
	fallback   Classifier
	transport  Transport

	escalations *escalation.Queue

	locks *common.KeyLock
}

func New(db *bolt.DB, cfg *config.Config, classifier, fallback Classifier, transport Transport, q *escalation.Queue, locks *common.KeyLock) *Engine {
	return &Engine{
		db:          db,
		cfg:         cfg,
		classifier:  classifier,
		fallback:    fallback,
		transport:   transport,
		escalations: q,
		locks:       locks,
	}
}

// CreateDeal opens the negotiation thread and sends the outreach message.
func (e *Engine) CreateDeal(d *common.Deal, intro string) (*common.Deal, error) {
	if d.CampaignId == "" || d.CreatorId == "" {
		return nil, ErrMissingDeal
	}
	if d.Budget == nil || d.Budget.MaxBudget <= 0 {
		return nil, ErrNoBudget
	}

	now := int32(time.Now().Unix())
	if err := e.db.Update(func(tx *bolt.Tx) (err error) {
		if d.Id, err = misc.GetNextIndex(tx, e.cfg.Bucket.Deal); err != nil {
			return
		}
		d.Stage = common.DealInitiated
		d.CreatedAt = now
		d.UpdatedAt = now
		return misc.PutTxJson(tx, e.cfg.Bucket.Deal, d.Id, d)
	}); err != nil {
		return nil, err
	}

	if intro != "" {
		if err := e.sendOutbound(d, intro); err != nil {
			// outreach failure leaves the deal retryable
			log.Println("outreach send failed for deal", d.Id, err)
		}
	}

	return d, nil
}

func (e *Engine) GetDeal(dealId string) (*common.Deal, error) {
	var d common.Deal
	if err := e.db.View(func(tx *bolt.Tx) error {
		raw := misc.GetBucket(tx, e.cfg.Bucket.Deal).Get([]byte(dealId))
		if len(raw) == 0 {
			return common.ErrNotFound
		}
		return json.Unmarshal(raw, &d)
	}); err != nil {
		return nil, err
	}
	return &d, nil
}

func (e *Engine) DealsForCampaign(campaignId string) ([]*common.Deal, error) {
	deals := []*common.Deal{}
	err := e.db.View(func(tx *bolt.Tx) error {
		return misc.GetBucket(tx, e.cfg.Bucket.Deal).ForEach(func(k, v []byte) error {
			d := &common.Deal{}
			if err := json.Unmarshal(v, d); err != nil {
				log.Println("error unmarshalling deal", string(v))
				return nil
			}
			if d.CampaignId == campaignId {
				deals = append(deals, d)
			}
			return nil
		})
	})
	return deals, err
}

// Conversation returns the deal's records ordered by receipt time. This is
// the authoritative history handed to classification.
func (e *Engine) Conversation(dealId string) ([]*common.CommunicationRecord, error) {
	records := []*common.CommunicationRecord{}
	err := e.db.View(func(tx *bolt.Tx) error {
		return misc.GetBucket(tx, e.cfg.Bucket.Communication).ForEach(func(k, v []byte) error {
			rec := &common.CommunicationRecord{}
			if err := json.Unmarshal(v, rec); err != nil {
				log.Println("error unmarshalling communication record", string(v))
				return nil
			}
			if rec.DealId == dealId {
				records = append(records, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp < records[j].Timestamp
		}
		// ids are sequential decimal strings, so the shorter one is older
		a, b := records[i].Id, records[j].Id
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})

	return records, nil
}

// ProcessReply drives one inbound reply through classification, the strategy
// table and the resulting stage transition. The inbound record, the strategy,
// the stage change and any escalation commit in a single transaction; a
// failed commit leaves no partial state.
func (e *Engine) ProcessReply(dealId, rawReply string) (*common.Deal, error) {
	if rawReply == "" {
		return nil, ErrEmptyReply
	}

	e.locks.Lock(dealId)
	deal, history, err := e.readDeal(dealId)
	e.locks.Unlock(dealId)
	if err != nil {
		return nil, err
	}

	// Classification is slow I/O; no locks held here. A dead or garbled
	// service degrades to the rule-based classifier so a reply never stalls.
	cl, err := e.classifier.Classify(history, rawReply)
	if err != nil || cl.Validate() != nil {
		if err != nil {
			log.Println("classification unavailable for deal", dealId, err)
		}
		cl, _ = e.fallback.Classify(history, rawReply)
		cl.Fallback = true
	}
	cl.ApplyDefaults()

	st := strategy.Determine(cl, deal.Budget, e.cfg.Policy.OverBudgetMultiplier)

	var parked bool
	now := int32(time.Now().Unix())
	if err = e.db.Update(func(tx *bolt.Tx) error {
		// re-validate: the deal may have moved while we were classifying
		raw := misc.GetBucket(tx, e.cfg.Bucket.Deal).Get([]byte(dealId))
		if len(raw) == 0 {
			return common.ErrNotFound
		}
		if err := json.Unmarshal(raw, deal); err != nil {
			return err
		}
		if deal.IsTerminal() {
			return common.ErrTerminalDeal
		}

		recId, err := misc.GetNextIndex(tx, e.cfg.Bucket.Communication)
		if err != nil {
			return err
		}
		rec := &common.CommunicationRecord{
			Id:             recId,
			DealId:         dealId,
			Direction:      common.DirectionIn,
			RawContent:     rawReply,
			Classification: cl,
			Timestamp:      now,
		}
		if err := misc.PutTxJson(tx, e.cfg.Bucket.Communication, rec.Id, rec); err != nil {
			return err
		}

		deal.LatestClassification = cl
		deal.Strategy = st
		deal.UpdatedAt = now

		target := st.Status
		payload := &common.EscalationPayload{Classification: cl, Strategy: st, Budget: deal.Budget}

		switch {
		case e.escalations.HasPendingTx(tx, dealId):
			// a human already has this deal; refresh their context and
			// keep automation out of the way
			target = deal.Stage
			if _, err := e.escalations.RaiseTx(tx, deal, escalationReason(cl, deal), payload); err != nil {
				return err
			}
			st.AutoRespond = false

		case st.RequiresHumanApproval:
			target = common.DealPendingReview
			if _, err := e.escalations.RaiseTx(tx, deal, escalationReason(cl, deal), payload); err != nil {
				return err
			}
		}

		if deal.Stage != target {
			if deal.CanTransition(target) {
				deal.Stage = target
			} else {
				// the computed move is illegal from here; unrecoverable, so
				// park the deal for ops instead of dropping the reply
				deal.Stage = common.DealError
				parked = true
			}
		}

		return misc.PutTxJson(tx, e.cfg.Bucket.Deal, deal.Id, deal)
	}); err != nil {
		return nil, err
	}

	if parked {
		return deal, common.ErrStageTransition
	}

	if st.AutoRespond {
		if err := e.sendOutbound(deal, responseContent(st, deal)); err != nil {
			log.Println("auto-response failed for deal", deal.Id, err)
		}
	}

	return deal, nil
}

// ApplyDecision re-enters the machine with a resolved escalation; the human
// call stands in for a classification.
func (e *Engine) ApplyDecision(req *common.EscalationRequest) (*common.Deal, error) {
	e.locks.Lock(req.DealId)
	defer e.locks.Unlock(req.DealId)

	var deal common.Deal
	now := int32(time.Now().Unix())
	if err := e.db.Update(func(tx *bolt.Tx) error {
		raw := misc.GetBucket(tx, e.cfg.Bucket.Deal).Get([]byte(req.DealId))
		if len(raw) == 0 {
			return common.ErrNotFound
		}
		if err := json.Unmarshal(raw, &deal); err != nil {
			return err
		}
		if deal.IsTerminal() {
			return common.ErrTerminalDeal
		}

		st := deal.Strategy
		if st == nil {
			st = &common.Strategy{}
		}
		st.RequiresHumanApproval = false
		st.AutoRespond = true
		st.ComputedAt = now

		if req.Status == common.EscalationApproved {
			st.Action = common.ActionAccept
			st.Status = common.DealReadyForContract
		} else {
			st.Action = common.ActionDecline
			st.Status = common.DealDeclined
		}

		deal.Strategy = st
		deal.UpdatedAt = now

		if deal.Stage != st.Status {
			if err := deal.Transition(st.Status); err != nil {
				return err
			}
		}

		return misc.PutTxJson(tx, e.cfg.Bucket.Deal, deal.Id, &deal)
	}); err != nil {
		return nil, err
	}

	if err := e.sendOutbound(&deal, responseContent(deal.Strategy, &deal)); err != nil {
		log.Println("decision follow-up failed for deal", deal.Id, err)
	}

	return &deal, nil
}

func (e *Engine) readDeal(dealId string) (*common.Deal, []*common.CommunicationRecord, error) {
	deal, err := e.GetDeal(dealId)
	if err != nil {
		return nil, nil, err
	}
	if deal.IsTerminal() {
		return nil, nil, common.ErrTerminalDeal
	}

	history, err := e.Conversation(dealId)
	if err != nil {
		return nil, nil, err
	}

	return deal, history, nil
}

// sendOutbound delivers the message and logs the attempt. The record is
// written either way; Failed marks exhausted attempts so the deal stays
// retryable without losing history.
func (e *Engine) sendOutbound(deal *common.Deal, content string) error {
	deliveryId, sendErr := e.transport.SendMessage(deal, content)

	if err := e.db.Update(func(tx *bolt.Tx) error {
		recId, err := misc.GetNextIndex(tx, e.cfg.Bucket.Communication)
		if err != nil {
			return err
		}
		rec := &common.CommunicationRecord{
			Id:         recId,
			DealId:     deal.Id,
			Direction:  common.DirectionOut,
			RawContent: content,
			DeliveryId: deliveryId,
			Failed:     sendErr != nil,
			Timestamp:  int32(time.Now().Unix()),
		}
		return misc.PutTxJson(tx, e.cfg.Bucket.Communication, rec.Id, rec)
	}); err != nil {
		return err
	}

	return sendErr
}

func escalationReason(cl *common.Classification, deal *common.Deal) string {
	if deal.Budget != nil && cl.ProposedAmount > deal.Budget.MaxBudget {
		return fmt.Sprintf("proposed amount %.2f exceeds the %.2f budget", cl.ProposedAmount, deal.Budget.MaxBudget)
	}
	return fmt.Sprintf("%s sentiment with %s risk needs review", cl.Sentiment, cl.RiskLevel)
}

func responseContent(st *common.Strategy, deal *common.Deal) string {
	switch st.Action {
	case common.ActionAccept:
		return fmt.Sprintf("Great news %s! We'd love to move forward at the proposed terms. We'll send the contract over shortly.", deal.CreatorName)
	case common.ActionDecline:
		return fmt.Sprintf("Thanks so much for your time %s! Unfortunately we won't be able to move forward on this one, but we'd love to keep you in mind for future campaigns.", deal.CreatorName)
	default:
		return fmt.Sprintf("Thanks %s! We're reviewing the details on our end and will get back to you with next steps shortly.", deal.CreatorName)
	}
}
