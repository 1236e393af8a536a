package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/boltdb/bolt"
	"github.com/swayops/dealflow/config"
	"github.com/swayops/dealflow/internal/common"
	"github.com/swayops/dealflow/internal/ledger"
	"github.com/swayops/dealflow/misc"
)

var (
	ErrGatewayAmbiguous     = errors.New("gateway outcome unknown, milestone left invoiced for reconciliation")
	ErrContractNotActive    = errors.New("contract is not active")
	ErrMilestoneNotInvoiced = errors.New("milestone has no invoice yet")
	ErrChargeInFlight       = fmt.Errorf("%w: a charge for this milestone is already in flight", common.ErrInvariant)
)

// chargeGrace bounds how long a stale in-flight marker blocks retries after a
// crash mid-charge; past it the outcome is as unknown as an ambiguous
// response and a retry is allowed.
const chargeGrace = 5 * time.Minute

// ChargeResult is the gateway's answer to a charge attempt. Exactly one of
// the three shapes holds: success (TransactionId set), a definite decline
// (Declined with the gateway's reason), or Ambiguous when the outcome is
// unknowable and must not be guessed.
type ChargeResult struct {
	TransactionId string
	Declined      bool
	Ambiguous     bool
	Reason        string
}

// Gateway is the payment processor boundary.
type Gateway interface {
	CreateInvoice(customerId string, m *common.PaymentMilestone) (string, error)
	Charge(customerId, invoiceId string, amount float64) (*ChargeResult, error)
}

// Engine drives each milestone through created -> invoiced -> paid/failed
// with at most one successful charge per milestone, ever. The key lock is
// only held around the read-validate-commit sections, never across gateway
// I/O; a transactional in-flight marker on the milestone is what keeps a
// concurrent delivery from double charging while the lock is released.
type Engine struct {
	db  *bolt.DB
	cfg *config.Config

	gateway Gateway

	locks *common.KeyLock
}

func New(db *bolt.DB, cfg *config.Config, gateway Gateway, locks *common.KeyLock) *Engine {
	return &Engine{db: db, cfg: cfg, gateway: gateway, locks: locks}
}

// MilestoneResult reports one milestone's invoicing outcome. Callers must
// check each entry; a partially failed batch is normal and retryable.
type MilestoneResult struct {
	MilestoneId string `json:"milestoneId"`
	InvoiceId   string `json:"invoiceId,omitempty"`
	Error       string `json:"error,omitempty"`
}

// InitializeMilestones creates a gateway invoice for every milestone still in
// created and moves it to invoiced. Failures are reported per milestone, not
// as an all-or-nothing batch.
func (e *Engine) InitializeMilestones(contractId string) ([]*MilestoneResult, error) {
	e.locks.Lock(contractId)
	ct, err := e.getContract(contractId)
	var milestones []*common.PaymentMilestone
	if err == nil {
		milestones, err = e.milestonesFor(contractId)
	}
	e.locks.Unlock(contractId)
	if err != nil {
		return nil, err
	}

	results := make([]*MilestoneResult, 0, len(milestones))
	for _, m := range milestones {
		if m.Status != common.MilestoneCreated {
			continue
		}

		res := &MilestoneResult{MilestoneId: m.Id}
		results = append(results, res)

		// gateway I/O with no lock held; the commit below re-checks that the
		// milestone is still waiting for an invoice
		invoiceId, err := e.gateway.CreateInvoice(ct.BillingCustomerId, m)
		if err != nil {
			res.Error = err.Error()
			continue
		}

		e.locks.Lock(contractId)
		err = e.db.Update(func(tx *bolt.Tx) error {
			var cur common.PaymentMilestone
			if err := misc.GetTxJson(tx, e.cfg.Bucket.Milestone, m.Id, &cur); err != nil {
				return err
			}
			if cur.Status != common.MilestoneCreated {
				return nil
			}
			if err := cur.Transition(common.MilestoneInvoiced); err != nil {
				return err
			}
			cur.InvoiceId = invoiceId
			cur.UpdatedAt = int32(time.Now().Unix())
			return misc.PutTxJson(tx, e.cfg.Bucket.Milestone, cur.Id, &cur)
		})
		e.locks.Unlock(contractId)
		if err != nil {
			res.Error = err.Error()
			continue
		}

		res.InvoiceId = invoiceId
	}

	return results, nil
}

// ProcessMilestonePayment charges the milestone's invoice. Retried calls and
// duplicate webhook deliveries are no-ops once the milestone is paid; the
// stored payment record is returned instead of a second charge. A concurrent
// delivery that arrives while a charge is mid-flight is rejected with
// ErrChargeInFlight rather than queued behind the gateway call.
func (e *Engine) ProcessMilestonePayment(contractId, milestoneId string) (*common.PaymentRecord, error) {
	rec, m, ct, err := e.beginCharge(contractId, milestoneId)
	if err != nil || rec != nil {
		return rec, err
	}

	// no lock held here; the in-flight marker written by beginCharge is what
	// keeps a concurrent delivery from double charging
	res, chErr := e.gateway.Charge(ct.BillingCustomerId, m.InvoiceId, m.Amount)

	return e.finishCharge(contractId, m, res, chErr)
}

// beginCharge validates every precondition and stamps the in-flight marker in
// one transaction under the key lock. A milestone already paid short-circuits
// with its stored record.
func (e *Engine) beginCharge(contractId, milestoneId string) (*common.PaymentRecord, *common.PaymentMilestone, *common.Contract, error) {
	e.locks.Lock(contractId)
	defer e.locks.Unlock(contractId)

	var (
		rec *common.PaymentRecord
		m   common.PaymentMilestone
		ct  common.Contract
	)
	now := int32(time.Now().Unix())
	if err := e.db.Update(func(tx *bolt.Tx) error {
		raw := misc.GetBucket(tx, e.cfg.Bucket.Milestone).Get([]byte(milestoneId))
		if len(raw) == 0 {
			return common.ErrNotFound
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		if m.ContractId != contractId {
			return fmt.Errorf("%w: milestone %s does not belong to contract %s", common.ErrInvariant, milestoneId, contractId)
		}

		if m.Status == common.MilestonePaid {
			rec = &common.PaymentRecord{}
			return misc.GetTxJson(tx, e.cfg.Bucket.Payment, m.Id, rec)
		}

		rawCt := misc.GetBucket(tx, e.cfg.Bucket.Contract).Get([]byte(contractId))
		if len(rawCt) == 0 {
			return common.ErrNotFound
		}
		if err := json.Unmarshal(rawCt, &ct); err != nil {
			return err
		}
		if ct.Status != common.ContractActive {
			return ErrContractNotActive
		}

		if m.Status == common.MilestoneCreated || m.InvoiceId == "" {
			return ErrMilestoneNotInvoiced
		}

		if m.ChargeStartedAt != 0 && now-m.ChargeStartedAt < int32(chargeGrace/time.Second) {
			return ErrChargeInFlight
		}

		m.ChargeStartedAt = now
		m.UpdatedAt = now
		return misc.PutTxJson(tx, e.cfg.Bucket.Milestone, m.Id, &m)
	}); err != nil {
		return nil, nil, nil, err
	}

	return rec, &m, &ct, nil
}

// finishCharge re-acquires the key lock and commits the gateway's verdict,
// dropping the in-flight marker either way.
func (e *Engine) finishCharge(contractId string, m *common.PaymentMilestone, res *ChargeResult, chErr error) (*common.PaymentRecord, error) {
	e.locks.Lock(contractId)
	defer e.locks.Unlock(contractId)

	now := int32(time.Now().Unix())

	if chErr != nil || res.Ambiguous {
		// never guess success; the milestone stays invoiced and ops
		// reconciles against the gateway
		if chErr != nil {
			log.Println("ambiguous gateway response for milestone", m.Id, chErr)
		}
		if err := e.db.Update(func(tx *bolt.Tx) error {
			return e.clearMarkerTx(tx, m.Id, now)
		}); err != nil {
			return nil, err
		}
		return nil, ErrGatewayAmbiguous
	}

	if res.Declined {
		if err := e.db.Update(func(tx *bolt.Tx) error {
			var cur common.PaymentMilestone
			if err := misc.GetTxJson(tx, e.cfg.Bucket.Milestone, m.Id, &cur); err != nil {
				return err
			}
			cur.ChargeStartedAt = 0
			if cur.Status != common.MilestonePaid {
				if err := cur.Transition(common.MilestoneFailed); err != nil {
					return err
				}
				cur.FailReason = res.Reason
			}
			cur.UpdatedAt = now
			return misc.PutTxJson(tx, e.cfg.Bucket.Milestone, cur.Id, &cur)
		}); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("charge failed: %s", res.Reason)
	}

	rec := &common.PaymentRecord{
		MilestoneId:   m.Id,
		ContractId:    contractId,
		InvoiceId:     m.InvoiceId,
		TransactionId: res.TransactionId,
		Amount:        m.Amount,
		ChargedAt:     now,
	}

	if err := e.db.Update(func(tx *bolt.Tx) error {
		var cur common.PaymentMilestone
		if err := misc.GetTxJson(tx, e.cfg.Bucket.Milestone, m.Id, &cur); err != nil {
			return err
		}
		cur.ChargeStartedAt = 0
		if cur.Status == common.MilestonePaid {
			// a racing delivery won; keep its record
			return misc.GetTxJson(tx, e.cfg.Bucket.Payment, m.Id, rec)
		}
		if err := cur.Transition(common.MilestonePaid); err != nil {
			return err
		}
		cur.PaidAt = now
		cur.FailReason = ""
		cur.UpdatedAt = now
		if err := misc.PutTxJson(tx, e.cfg.Bucket.Milestone, cur.Id, &cur); err != nil {
			return err
		}
		if err := misc.PutTxJson(tx, e.cfg.Bucket.Payment, m.Id, rec); err != nil {
			return err
		}

		return e.settleContractTx(tx, contractId)
	}); err != nil {
		return nil, err
	}

	return rec, nil
}

func (e *Engine) clearMarkerTx(tx *bolt.Tx, milestoneId string, now int32) error {
	var cur common.PaymentMilestone
	if err := misc.GetTxJson(tx, e.cfg.Bucket.Milestone, milestoneId, &cur); err != nil {
		return err
	}
	cur.ChargeStartedAt = 0
	cur.UpdatedAt = now
	return misc.PutTxJson(tx, e.cfg.Bucket.Milestone, cur.Id, &cur)
}

// settleContractTx recomputes the contract's payment position and completes
// the contract once nothing remains.
func (e *Engine) settleContractTx(tx *bolt.Tx, contractId string) error {
	var ct common.Contract
	if err := misc.GetTxJson(tx, e.cfg.Bucket.Contract, contractId, &ct); err != nil {
		return err
	}

	milestones := []*common.PaymentMilestone{}
	if err := misc.GetBucket(tx, e.cfg.Bucket.Milestone).ForEach(func(k, v []byte) error {
		m := &common.PaymentMilestone{}
		if err := json.Unmarshal(v, m); err != nil {
			return nil
		}
		if m.ContractId == contractId {
			milestones = append(milestones, m)
		}
		return nil
	}); err != nil {
		return err
	}

	sum := ledger.Summarize(contractId, milestones)
	if sum.Status == ledger.StatusCompleted && ct.Status == common.ContractActive {
		if err := ct.AdvanceTo(common.ContractCompleted); err != nil {
			return err
		}
		ct.UpdatedAt = int32(time.Now().Unix())
		return misc.PutTxJson(tx, e.cfg.Bucket.Contract, ct.Id, &ct)
	}

	return nil
}

func (e *Engine) PaymentFor(milestoneId string) (*common.PaymentRecord, error) {
	var rec common.PaymentRecord
	if err := e.db.View(func(tx *bolt.Tx) error {
		raw := misc.GetBucket(tx, e.cfg.Bucket.Payment).Get([]byte(milestoneId))
		if len(raw) == 0 {
			return common.ErrNotFound
		}
		return json.Unmarshal(raw, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SweepInvoices retries invoice creation for milestones still sitting in
// created under an active contract. Returns how many were invoiced.
func (e *Engine) SweepInvoices() int {
	type pair struct{ contractId, milestoneId string }
	var stale []pair

	if err := e.db.View(func(tx *bolt.Tx) error {
		return misc.GetBucket(tx, e.cfg.Bucket.Milestone).ForEach(func(k, v []byte) error {
			m := &common.PaymentMilestone{}
			if err := json.Unmarshal(v, m); err != nil {
				return nil
			}
			if m.Status == common.MilestoneCreated {
				stale = append(stale, pair{m.ContractId, m.Id})
			}
			return nil
		})
	}); err != nil {
		log.Println("invoice sweep scan failed", err)
		return 0
	}

	var swept int
	seen := map[string]bool{}
	for _, p := range stale {
		if seen[p.contractId] {
			continue
		}
		seen[p.contractId] = true

		ct, err := e.getContract(p.contractId)
		if err != nil || ct.Status != common.ContractActive {
			continue
		}

		results, err := e.InitializeMilestones(p.contractId)
		if err != nil {
			log.Println("invoice sweep failed for contract", p.contractId, err)
			continue
		}
		for _, res := range results {
			if res.Error == "" {
				swept++
			}
		}
	}

	return swept
}

func (e *Engine) getContract(contractId string) (*common.Contract, error) {
	var ct common.Contract
	if err := e.db.View(func(tx *bolt.Tx) error {
		raw := misc.GetBucket(tx, e.cfg.Bucket.Contract).Get([]byte(contractId))
		if len(raw) == 0 {
			return common.ErrNotFound
		}
		return json.Unmarshal(raw, &ct)
	}); err != nil {
		return nil, err
	}
	return &ct, nil
}

func (e *Engine) getMilestone(milestoneId string) (*common.PaymentMilestone, error) {
	var m common.PaymentMilestone
	if err := e.db.View(func(tx *bolt.Tx) error {
		raw := misc.GetBucket(tx, e.cfg.Bucket.Milestone).Get([]byte(milestoneId))
		if len(raw) == 0 {
			return common.ErrNotFound
		}
		return json.Unmarshal(raw, &m)
	}); err != nil {
		return nil, err
	}
	return &m, nil
}

func (e *Engine) MilestonesFor(contractId string) ([]*common.PaymentMilestone, error) {
	return e.milestonesFor(contractId)
}

func (e *Engine) milestonesFor(contractId string) ([]*common.PaymentMilestone, error) {
	milestones := []*common.PaymentMilestone{}
	err := e.db.View(func(tx *bolt.Tx) error {
		return misc.GetBucket(tx, e.cfg.Bucket.Milestone).ForEach(func(k, v []byte) error {
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
