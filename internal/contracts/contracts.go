package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/boltdb/bolt"
	"github.com/swayops/dealflow/config"
	"github.com/swayops/dealflow/internal/common"
	"github.com/swayops/dealflow/misc"
)

var (
	ErrDealNotReady = errors.New("deal is not ready for a contract")
	ErrTermsFrozen  = errors.New("terms are frozen once signatures are requested")
)

// TermsExtractor pulls structured terms out of the conversation. A broken or
// missing extractor is not fatal; the trigger falls back to the default
// milestone schedule.
type TermsExtractor interface {
	ExtractTerms(deal *common.Deal, history []*common.CommunicationRecord) (*common.TermsSnapshot, error)
}

// Renderer produces the contract document for a terms snapshot.
type Renderer interface {
	RenderContract(terms *common.TermsSnapshot) (string, error)
}

// Trigger creates exactly one contract per agreed deal and its payment
// milestones. The dealId -> contractId index bucket makes creation
// idempotent at the storage boundary.
type Trigger struct {
	db  *bolt.DB
	cfg *config.Config

	extractor TermsExtractor
	renderer  Renderer

	locks *common.KeyLock
}

func New(db *bolt.DB, cfg *config.Config, extractor TermsExtractor, renderer Renderer, locks *common.KeyLock) *Trigger {
	return &Trigger{db: db, cfg: cfg, extractor: extractor, renderer: renderer, locks: locks}
}

// CreateContractFromDeal extracts terms from the deal's history and final
// strategy and creates the contract in drafting with its milestones. Calling
// it twice returns the first contract.
func (t *Trigger) CreateContractFromDeal(dealId string, history []*common.CommunicationRecord) (*common.Contract, error) {
	t.locks.Lock(dealId)
	defer t.locks.Unlock(dealId)

	if ct, err := t.ContractForDeal(dealId); err == nil {
		return ct, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	var deal common.Deal
	if err := t.db.View(func(tx *bolt.Tx) error {
		raw := misc.GetBucket(tx, t.cfg.Bucket.Deal).Get([]byte(dealId))
		if len(raw) == 0 {
			return common.ErrNotFound
		}
		return json.Unmarshal(raw, &deal)
	}); err != nil {
		return nil, err
	}

	if deal.Stage != common.DealReadyForContract {
		return nil, ErrDealNotReady
	}

	// extraction is slow external I/O; invalid or missing output falls back
	// to the deterministic default schedule
	terms, err := t.extractor.ExtractTerms(&deal, history)
	if err != nil || terms.Validate() != nil {
		if err != nil {
			log.Println("terms extraction unavailable for deal", dealId, err)
		}
		terms = t.defaultTerms(&deal)
	}

	now := int32(time.Now().Unix())
	ct := &common.Contract{}
	if err := t.db.Update(func(tx *bolt.Tx) (err error) {
		// re-check under the write lock; a racing call may have won
		if id := misc.GetBucket(tx, t.cfg.Bucket.ContractIndex).Get([]byte(dealId)); len(id) > 0 {
			return misc.GetTxJson(tx, t.cfg.Bucket.Contract, string(id), ct)
		}

		raw := misc.GetBucket(tx, t.cfg.Bucket.Deal).Get([]byte(dealId))
		if len(raw) == 0 {
			return common.ErrNotFound
		}
		if err := json.Unmarshal(raw, &deal); err != nil {
			return err
		}
		if deal.Stage != common.DealReadyForContract {
			return ErrDealNotReady
		}

		if ct.Id, err = misc.GetNextIndex(tx, t.cfg.Bucket.Contract); err != nil {
			return
		}

		ct.DealId = dealId
		ct.BillingCustomerId = deal.BillingCustomerId
		ct.Terms = terms
		ct.Status = common.ContractDrafting
		ct.CreatedAt = now
		ct.UpdatedAt = now

		for _, term := range terms.Milestones {
			mId, err := misc.GetNextIndex(tx, t.cfg.Bucket.Milestone)
			if err != nil {
				return err
			}
			m := &common.PaymentMilestone{
				Id:          mId,
				ContractId:  ct.Id,
				Description: term.Description,
				Amount:      term.Amount,
				DueDate:     term.DueDate,
				Status:      common.MilestoneCreated,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := misc.PutTxJson(tx, t.cfg.Bucket.Milestone, m.Id, m); err != nil {
				return err
			}
		}

		if err := misc.PutTxJson(tx, t.cfg.Bucket.Contract, ct.Id, ct); err != nil {
			return err
		}
		if err := misc.PutBucketBytes(tx, t.cfg.Bucket.ContractIndex, dealId, []byte(ct.Id)); err != nil {
			return err
		}

		if err := deal.Transition(common.DealContractCreated); err != nil {
			return err
		}
		deal.UpdatedAt = now
		return misc.PutTxJson(tx, t.cfg.Bucket.Deal, deal.Id, &deal)
	}); err != nil {
		return nil, err
	}

	// best effort; the contract is valid without a rendered document and the
	// render can be retried from the drafting state
	if url, err := t.renderer.RenderContract(ct.Terms); err == nil && url != "" {
		if err := t.db.Update(func(tx *bolt.Tx) error {
			ct.DocumentURL = url
			return misc.PutTxJson(tx, t.cfg.Bucket.Contract, ct.Id, ct)
		}); err != nil {
			log.Println("failed to save document url for contract", ct.Id, err)
		}
	} else if err != nil {
		log.Println("contract render failed for", ct.Id, err)
	}

	return ct, nil
}

// defaultTerms builds the deterministic fallback schedule from the agreed
// amount and the configured split.
func (t *Trigger) defaultTerms(deal *common.Deal) *common.TermsSnapshot {
	var total float64
	if cl := deal.LatestClassification; cl != nil && cl.ProposedAmount > 0 {
		total = cl.ProposedAmount
	} else if deal.Budget != nil {
		total = deal.Budget.MaxBudget
	}

	var currency string
	if deal.Budget != nil {
		currency = deal.Budget.Currency
	}

	split := t.cfg.Policy.DefaultMilestoneSplit
	milestones := make([]*common.MilestoneTerm, 0, len(split))
	var allocated float64
	for i, part := range split {
		amount := misc.TruncateFloat(total*part, 2)
		if i == len(split)-1 {
			// the last slice absorbs rounding so the sum stays exact
			amount = math.Round((total-allocated)*100) / 100
		}
		allocated += amount

		desc := fmt.Sprintf("Installment %d of %d", i+1, len(split))
		if len(split) == 2 {
			if i == 0 {
				desc = "Due at signing"
			} else {
				desc = "Due at delivery"
			}
		}

		milestones = append(milestones, &common.MilestoneTerm{
			Description: desc,
			Amount:      amount,
		})
	}

	return &common.TermsSnapshot{
		Deliverables:  []string{"Sponsored content per the agreed scope"},
		PaymentAmount: total,
		Currency:      currency,
		Milestones:    milestones,
	}
}

func (t *Trigger) GetContract(contractId string) (*common.Contract, error) {
	var ct common.Contract
	if err := t.db.View(func(tx *bolt.Tx) error {
		raw := misc.GetBucket(tx, t.cfg.Bucket.Contract).Get([]byte(contractId))
		if len(raw) == 0 {
			return common.ErrNotFound
		}
		return json.Unmarshal(raw, &ct)
	}); err != nil {
		return nil, err
	}
	return &ct, nil
}

func (t *Trigger) ContractForDeal(dealId string) (*common.Contract, error) {
	var ct common.Contract
	if err := t.db.View(func(tx *bolt.Tx) error {
		id := misc.GetBucket(tx, t.cfg.Bucket.ContractIndex).Get([]byte(dealId))
		if len(id) == 0 {
			return common.ErrNotFound
		}
		return misc.GetTxJson(tx, t.cfg.Bucket.Contract, string(id), &ct)
	}); err != nil {
		return nil, err
	}
	return &ct, nil
}

func (t *Trigger) Milestones(contractId string) ([]*common.PaymentMilestone, error) {
	milestones := []*common.PaymentMilestone{}
	err := t.db.View(func(tx *bolt.Tx) error {
		return misc.GetBucket(tx, t.cfg.Bucket.Milestone).ForEach(func(k, v []byte) error {
			m := &common.PaymentMilestone{}
			if err := json.Unmarshal(v, m); err != nil {
				log.Println("error unmarshalling milestone", string(v))
				return nil
			}
			if m.ContractId == contractId {
				milestones = append(milestones, m)
			}
			return nil
		})
	})
	return milestones, err
}

// AdvanceStatus moves the contract through its signing lifecycle. Forward
// only; terms are already frozen by construction once awaiting_signatures is
// reached.
func (t *Trigger) AdvanceStatus(contractId, status string) (*common.Contract, error) {
	t.locks.Lock(contractId)
	defer t.locks.Unlock(contractId)

	var ct common.Contract
	if err := t.db.Update(func(tx *bolt.Tx) error {
		raw := misc.GetBucket(tx, t.cfg.Bucket.Contract).Get([]byte(contractId))
		if len(raw) == 0 {
			return common.ErrNotFound
		}
		if err := json.Unmarshal(raw, &ct); err != nil {
			return err
		}

		if err := ct.AdvanceTo(status); err != nil {
			return err
		}
		ct.UpdatedAt = int32(time.Now().Unix())

		return misc.PutTxJson(tx, t.cfg.Bucket.Contract, ct.Id, &ct)
	}); err != nil {
		return nil, err
	}

	return &ct, nil
}
