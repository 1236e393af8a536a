package escalation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/boltdb/bolt"
	"github.com/swayops/dealflow/config"
	"github.com/swayops/dealflow/internal/common"
	"github.com/swayops/dealflow/misc"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()

	dir := t.TempDir()
	loc := filepath.Join(dir, "config.json")
	raw := fmt.Sprintf(`{"dbPath": %q, "dbName": "test", "sandbox": true}`, dir+"/")
	if err := os.WriteFile(loc, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.New(loc)
	if err != nil {
		t.Fatal(err)
	}

	db := misc.OpenDB(cfg.DBPath, cfg.DBName)
	t.Cleanup(func() { db.Close() })

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range append([]string{"index"}, cfg.Bucket.All...) {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		for _, name := range cfg.Bucket.All {
			if err := misc.InitIndex(tx, name, 1); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	return New(db, cfg)
}

func testDeal(id string) *common.Deal {
	return &common.Deal{
		Id:         id,
		CampaignId: "cmp1",
		CreatorId:  "cr1",
		Stage:      common.DealPendingReview,
		Budget:     &common.BudgetConstraints{MaxBudget: 2000, Currency: "USD"},
	}
}

func TestRaiseIsIdempotentPerDeal(t *testing.T) {
	q := testQueue(t)
	deal := testDeal("1")

	first, err := q.Raise(deal, "amount exceeds budget", &common.EscalationPayload{
		Classification: &common.Classification{Sentiment: common.SentimentNeutral, ProposedAmount: 3000},
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != common.EscalationPending {
		t.Fatalf("status = %s, wanted %s", first.Status, common.EscalationPending)
	}

	// a second raise for the same deal must update, never duplicate
	second, err := q.Raise(deal, "still exceeds budget", &common.EscalationPayload{
		Classification: &common.Classification{Sentiment: common.SentimentNeutral, ProposedAmount: 2800},
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Id != first.Id {
		t.Fatalf("expected the pending request to be reused, got %s and %s", first.Id, second.Id)
	}
	if second.Reason != "still exceeds budget" {
		t.Errorf("reason = %q, wanted the refreshed one", second.Reason)
	}
	if second.Payload.Classification.ProposedAmount != 2800 {
		t.Errorf("payload amount = %v, wanted 2800", second.Payload.Classification.ProposedAmount)
	}

	pending, err := q.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, wanted 1", len(pending))
	}
}

func TestResolve(t *testing.T) {
	q := testQueue(t)

	req, err := q.Raise(testDeal("1"), "needs review", &common.EscalationPayload{})
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := q.Resolve(req.Id, common.DecisionApprove, "looks fine")
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != common.EscalationApproved {
		t.Errorf("status = %s, wanted %s", resolved.Status, common.EscalationApproved)
	}
	if resolved.Note != "looks fine" {
		t.Errorf("note = %q", resolved.Note)
	}
	if resolved.ResolvedAt == 0 {
		t.Error("expected a resolution timestamp")
	}

	// resolving twice is NotFound, not a silent flip
	if _, err = q.Resolve(req.Id, common.DecisionReject, ""); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// and the deal can be escalated again now
	again, err := q.Raise(testDeal("1"), "second round", &common.EscalationPayload{})
	if err != nil {
		t.Fatal(err)
	}
	if again.Id == req.Id {
		t.Error("expected a fresh request after resolution")
	}
}

func TestResolveReject(t *testing.T) {
	q := testQueue(t)

	req, err := q.Raise(testDeal("1"), "needs review", &common.EscalationPayload{})
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := q.Resolve(req.Id, common.DecisionReject, "too expensive")
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != common.EscalationRejected {
		t.Errorf("status = %s, wanted %s", resolved.Status, common.EscalationRejected)
	}
}

func TestResolveBadInput(t *testing.T) {
	q := testQueue(t)

	if _, err := q.Resolve("42", common.DecisionApprove, ""); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a missing request, got %v", err)
	}
	if _, err := q.Resolve("42", "maybe", ""); !errors.Is(err, ErrDecision) {
		t.Fatalf("expected ErrDecision, got %v", err)
	}
}
