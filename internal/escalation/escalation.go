package escalation

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/boltdb/bolt"
	"github.com/swayops/dealflow/config"
	"github.com/swayops/dealflow/internal/common"
	"github.com/swayops/dealflow/misc"
)

var (
	ErrDecision = errors.New("decision must be approve or reject")
)

// Queue holds pending human-approval requests. The dealId -> requestId
// pending bucket is the transactional guard behind the one-open-request-per-
// deal rule; every check-then-create happens inside a single bolt update.
type Queue struct {
	db  *bolt.DB
	cfg *config.Config
}

func New(db *bolt.DB, cfg *config.Config) *Queue {
	return &Queue{db: db, cfg: cfg}
}

// RaiseTx creates the pending request for the deal, or updates the payload of
// the one that already exists. Idempotent per deal by design.
func (q *Queue) RaiseTx(tx *bolt.Tx, deal *common.Deal, reason string, payload *common.EscalationPayload) (*common.EscalationRequest, error) {
	pending := misc.GetBucket(tx, q.cfg.Bucket.EscalationPending)

	if id := pending.Get([]byte(deal.Id)); len(id) > 0 {
		var req common.EscalationRequest
		if err := misc.GetTxJson(tx, q.cfg.Bucket.Escalation, string(id), &req); err != nil {
			return nil, err
		}

		req.Reason = reason
		req.Payload = payload
		if err := misc.PutTxJson(tx, q.cfg.Bucket.Escalation, req.Id, &req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	id, err := misc.GetNextIndex(tx, q.cfg.Bucket.Escalation)
	if err != nil {
		return nil, err
	}

	req := &common.EscalationRequest{
		Id:        id,
		DealId:    deal.Id,
		Reason:    reason,
		Payload:   payload,
		Status:    common.EscalationPending,
		CreatedAt: int32(time.Now().Unix()),
	}

	if err := misc.PutTxJson(tx, q.cfg.Bucket.Escalation, req.Id, req); err != nil {
		return nil, err
	}
	if err := misc.PutBucketBytes(tx, q.cfg.Bucket.EscalationPending, deal.Id, []byte(req.Id)); err != nil {
		return nil, err
	}

	return req, nil
}

func (q *Queue) Raise(deal *common.Deal, reason string, payload *common.EscalationPayload) (*common.EscalationRequest, error) {
	var req *common.EscalationRequest
	err := q.db.Update(func(tx *bolt.Tx) (err error) {
		req, err = q.RaiseTx(tx, deal, reason, payload)
		return
	})
	return req, err
}

// Resolve transitions the request to approved/rejected and stamps the
// resolution. Resolving anything that is not currently pending is NotFound.
func (q *Queue) Resolve(requestId, decision, note string) (*common.EscalationRequest, error) {
	if decision != common.DecisionApprove && decision != common.DecisionReject {
		return nil, ErrDecision
	}

	var req common.EscalationRequest
	if err := q.db.Update(func(tx *bolt.Tx) error {
		raw := misc.GetBucket(tx, q.cfg.Bucket.Escalation).Get([]byte(requestId))
		if len(raw) == 0 {
			return common.ErrNotFound
		}

		if err := misc.GetTxJson(tx, q.cfg.Bucket.Escalation, requestId, &req); err != nil {
			log.Println("error unmarshalling escalation", requestId, err)
			return err
		}

		if req.Status != common.EscalationPending {
			return common.ErrNotFound
		}

		if decision == common.DecisionApprove {
			req.Status = common.EscalationApproved
		} else {
			req.Status = common.EscalationRejected
		}
		req.Note = note
		req.ResolvedAt = int32(time.Now().Unix())

		if err := misc.GetBucket(tx, q.cfg.Bucket.EscalationPending).Delete([]byte(req.DealId)); err != nil {
			return err
		}

		return misc.PutTxJson(tx, q.cfg.Bucket.Escalation, req.Id, &req)
	}); err != nil {
		return nil, err
	}

	return &req, nil
}

func (q *Queue) Get(requestId string) (*common.EscalationRequest, error) {
	var req common.EscalationRequest
	if err := q.db.View(func(tx *bolt.Tx) error {
		raw := misc.GetBucket(tx, q.cfg.Bucket.Escalation).Get([]byte(requestId))
		if len(raw) == 0 {
			return common.ErrNotFound
		}
		return misc.GetTxJson(tx, q.cfg.Bucket.Escalation, requestId, &req)
	}); err != nil {
		return nil, err
	}
	return &req, nil
}

// HasPendingTx reports whether the deal already has an open request.
func (q *Queue) HasPendingTx(tx *bolt.Tx, dealId string) bool {
	return len(misc.GetBucket(tx, q.cfg.Bucket.EscalationPending).Get([]byte(dealId))) > 0
}

func (q *Queue) Pending() ([]*common.EscalationRequest, error) {
	reqs := []*common.EscalationRequest{}
	err := q.db.View(func(tx *bolt.Tx) error {
		return misc.GetBucket(tx, q.cfg.Bucket.Escalation).ForEach(func(k, v []byte) error {
			req := &common.EscalationRequest{}
			if err := json.Unmarshal(v, req); err != nil {
				log.Println("error unmarshalling escalation", string(v))
				return nil
			}
			if req.Status == common.EscalationPending {
				reqs = append(reqs, req)
			}
			return nil
		})
	})
	return reqs, err
}
