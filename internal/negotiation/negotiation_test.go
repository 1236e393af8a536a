package negotiation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/boltdb/bolt"
	"github.com/swayops/dealflow/config"
	"github.com/swayops/dealflow/internal/common"
	"github.com/swayops/dealflow/internal/escalation"
	"github.com/swayops/dealflow/misc"
	"github.com/swayops/dealflow/platforms/classify"
)

type stubClassifier struct {
	cl    *common.Classification
	err   error
	calls int
}

func (s *stubClassifier) Classify(history []*common.CommunicationRecord, reply string) (*common.Classification, error) {
	s.calls++
	return s.cl, s.err
}

type stubTransport struct {
	sent []string
	err  error
}

func (s *stubTransport) SendMessage(deal *common.Deal, content string) (string, error) {
	s.sent = append(s.sent, content)
	if s.err != nil {
		return "", s.err
	}
	return "delivery-" + misc.PseudoUUID(), nil
}

type testEnv struct {
	engine     *Engine
	queue      *escalation.Queue
	classifier *stubClassifier
	transport  *stubTransport

	db  *bolt.DB
	cfg *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
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

	env := &testEnv{
		queue:      escalation.New(db, cfg),
		classifier: &stubClassifier{},
		transport:  &stubTransport{},
		db:         db,
		cfg:        cfg,
	}
	env.engine = New(db, cfg, env.classifier, classify.NewFallback(), env.transport, env.queue, common.NewKeyLock())
	return env
}

func (env *testEnv) createDeal(t *testing.T) *common.Deal {
	t.Helper()
	deal, err := env.engine.CreateDeal(&common.Deal{
		CampaignId:   "cmp1",
		CreatorId:    "cr1",
		CreatorName:  "Jane",
		CreatorEmail: "jane@example.com",
		Budget:       &common.BudgetConstraints{MaxBudget: 2000, Currency: "USD"},
	}, "Hey Jane, we'd love to work with you!")
	if err != nil {
		t.Fatal(err)
	}
	return deal
}

func TestCreateDeal(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.CreateDeal(&common.Deal{CreatorId: "cr1"}, ""); !errors.Is(err, ErrMissingDeal) {
		t.Fatalf("expected ErrMissingDeal, got %v", err)
	}
	if _, err := env.engine.CreateDeal(&common.Deal{CampaignId: "cmp1", CreatorId: "cr1"}, ""); !errors.Is(err, ErrNoBudget) {
		t.Fatalf("expected ErrNoBudget, got %v", err)
	}

	deal := env.createDeal(t)
	if deal.Stage != common.DealInitiated {
		t.Errorf("stage = %s, wanted %s", deal.Stage, common.DealInitiated)
	}
	if len(env.transport.sent) != 1 {
		t.Fatalf("sent = %d, wanted the outreach message", len(env.transport.sent))
	}

	history, err := env.engine.Conversation(deal.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Direction != common.DirectionOut {
		t.Fatalf("expected one outbound record, got %+v", history)
	}
}

func TestProcessReplyAccept(t *testing.T) {
	env := newTestEnv(t)
	deal := env.createDeal(t)

	env.classifier.cl = &common.Classification{
		Sentiment:            common.SentimentPositive,
		ProposedAmount:       1800,
		RiskLevel:            common.RiskLow,
		NegotiationPotential: common.PotentialHigh,
	}

	deal, err := env.engine.ProcessReply(deal.Id, "Sounds great, $1800 works for me")
	if err != nil {
		t.Fatal(err)
	}

	if deal.Stage != common.DealReadyForContract {
		t.Errorf("stage = %s, wanted %s", deal.Stage, common.DealReadyForContract)
	}
	if deal.Strategy == nil || deal.Strategy.Action != common.ActionAccept {
		t.Fatalf("strategy = %+v, wanted accept", deal.Strategy)
	}

	// outreach + auto-accept
	if len(env.transport.sent) != 2 {
		t.Fatalf("sent = %d, wanted 2", len(env.transport.sent))
	}

	history, err := env.engine.Conversation(deal.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("history = %d records, wanted 3", len(history))
	}

	var inbound *common.CommunicationRecord
	for _, rec := range history {
		if rec.Direction == common.DirectionIn {
			inbound = rec
		}
	}
	if inbound == nil || inbound.Classification == nil || inbound.Classification.ProposedAmount != 1800 {
		t.Fatalf("inbound record missing its classification: %+v", inbound)
	}
}

func TestProcessReplyDecline(t *testing.T) {
	env := newTestEnv(t)
	deal := env.createDeal(t)

	env.classifier.cl = &common.Classification{
		Sentiment:            common.SentimentNegative,
		RiskLevel:            common.RiskLow,
		NegotiationPotential: common.PotentialLow,
	}

	deal, err := env.engine.ProcessReply(deal.Id, "not interested")
	if err != nil {
		t.Fatal(err)
	}
	if deal.Stage != common.DealDeclined {
		t.Errorf("stage = %s, wanted %s", deal.Stage, common.DealDeclined)
	}

	// declined is terminal; further replies must be refused
	if _, err = env.engine.ProcessReply(deal.Id, "wait actually"); !errors.Is(err, common.ErrTerminalDeal) {
		t.Fatalf("expected ErrTerminalDeal, got %v", err)
	}
}

func TestProcessReplyFallback(t *testing.T) {
	env := newTestEnv(t)
	deal := env.createDeal(t)

	// classifier is down; the rule-based fallback takes over and, with no
	// readable amount, flags high risk which lands with a human
	env.classifier.err = errors.New("service exploded")

	deal, err := env.engine.ProcessReply(deal.Id, "let's hop on a call to talk numbers")
	if err != nil {
		t.Fatal(err)
	}

	if deal.LatestClassification == nil || !deal.LatestClassification.Fallback {
		t.Fatal("expected the fallback classification to be marked")
	}
	if deal.Stage != common.DealPendingReview {
		t.Errorf("stage = %s, wanted %s", deal.Stage, common.DealPendingReview)
	}

	pending, err := env.queue.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, wanted 1", len(pending))
	}
}

func TestProcessReplyEscalationNotDuplicated(t *testing.T) {
	env := newTestEnv(t)
	deal := env.createDeal(t)

	// far over the 2000 budget, so the override forces an escalation
	env.classifier.cl = &common.Classification{
		Sentiment:            common.SentimentPositive,
		ProposedAmount:       3000,
		RiskLevel:            common.RiskLow,
		NegotiationPotential: common.PotentialHigh,
	}

	deal, err := env.engine.ProcessReply(deal.Id, "my rate is $3000")
	if err != nil {
		t.Fatal(err)
	}
	if deal.Stage != common.DealPendingReview {
		t.Fatalf("stage = %s, wanted %s", deal.Stage, common.DealPendingReview)
	}

	pending, err := env.queue.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, wanted 1", len(pending))
	}
	firstId := pending[0].Id

	sent := len(env.transport.sent)

	// another reply while a human holds the deal refreshes the request's
	// payload, keeps the stage and stays quiet
	env.classifier.cl = &common.Classification{
		Sentiment:            common.SentimentPositive,
		ProposedAmount:       2900,
		RiskLevel:            common.RiskLow,
		NegotiationPotential: common.PotentialHigh,
	}
	deal, err = env.engine.ProcessReply(deal.Id, "ok, $2900, final offer")
	if err != nil {
		t.Fatal(err)
	}
	if deal.Stage != common.DealPendingReview {
		t.Errorf("stage = %s, wanted %s", deal.Stage, common.DealPendingReview)
	}

	if pending, err = env.queue.Pending(); err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, wanted 1", len(pending))
	}
	if pending[0].Id != firstId {
		t.Error("expected the original request, not a duplicate")
	}
	if pending[0].Payload.Classification.ProposedAmount != 2900 {
		t.Errorf("payload amount = %v, wanted the refreshed 2900", pending[0].Payload.Classification.ProposedAmount)
	}
	if len(env.transport.sent) != sent {
		t.Error("expected no auto-response while a human holds the deal")
	}
}

func TestApplyDecision(t *testing.T) {
	env := newTestEnv(t)
	deal := env.createDeal(t)

	env.classifier.cl = &common.Classification{
		Sentiment:            common.SentimentNeutral,
		ProposedAmount:       3000,
		RiskLevel:            common.RiskHigh,
		NegotiationPotential: common.PotentialMedium,
	}
	if _, err := env.engine.ProcessReply(deal.Id, "$3000 take it or leave it"); err != nil {
		t.Fatal(err)
	}

	pending, err := env.queue.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, wanted 1", len(pending))
	}

	resolved, err := env.queue.Resolve(pending[0].Id, common.DecisionApprove, "worth it")
	if err != nil {
		t.Fatal(err)
	}

	sent := len(env.transport.sent)
	deal, err = env.engine.ApplyDecision(resolved)
	if err != nil {
		t.Fatal(err)
	}
	if deal.Stage != common.DealReadyForContract {
		t.Errorf("stage = %s, wanted %s", deal.Stage, common.DealReadyForContract)
	}
	if len(env.transport.sent) != sent+1 {
		t.Error("expected the acceptance follow-up to be sent")
	}
}

func TestApplyDecisionReject(t *testing.T) {
	env := newTestEnv(t)
	deal := env.createDeal(t)

	env.classifier.cl = &common.Classification{
		Sentiment:            common.SentimentNeutral,
		ProposedAmount:       3000,
		RiskLevel:            common.RiskHigh,
		NegotiationPotential: common.PotentialMedium,
	}
	if _, err := env.engine.ProcessReply(deal.Id, "$3000"); err != nil {
		t.Fatal(err)
	}

	pending, _ := env.queue.Pending()
	resolved, err := env.queue.Resolve(pending[0].Id, common.DecisionReject, "way over budget")
	if err != nil {
		t.Fatal(err)
	}

	deal, err = env.engine.ApplyDecision(resolved)
	if err != nil {
		t.Fatal(err)
	}
	if deal.Stage != common.DealDeclined {
		t.Errorf("stage = %s, wanted %s", deal.Stage, common.DealDeclined)
	}
}

func TestConversationOrder(t *testing.T) {
	env := newTestEnv(t)

	// a dozen records pushes the ids into two digits; with equal timestamps
	// the ordering must still follow the numeric ids, not their bytes
	if err := env.db.Update(func(tx *bolt.Tx) error {
		for i := 1; i <= 12; i++ {
			rec := &common.CommunicationRecord{
				Id:         fmt.Sprintf("%d", i),
				DealId:     "d1",
				Direction:  common.DirectionIn,
				RawContent: fmt.Sprintf("message %d", i),
				Timestamp:  1700000000,
			}
			if err := misc.PutTxJson(tx, env.cfg.Bucket.Communication, rec.Id, rec); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	records, err := env.engine.Conversation("d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 12 {
		t.Fatalf("records = %d, wanted 12", len(records))
	}
	for i, rec := range records {
		if want := fmt.Sprintf("%d", i+1); rec.Id != want {
			t.Fatalf("record %d has id %s, wanted %s", i, rec.Id, want)
		}
	}
}

func TestProcessReplyParksIllegalMove(t *testing.T) {
	env := newTestEnv(t)
	deal := env.createDeal(t)

	env.classifier.cl = &common.Classification{
		Sentiment:            common.SentimentPositive,
		ProposedAmount:       1800,
		RiskLevel:            common.RiskLow,
		NegotiationPotential: common.PotentialHigh,
	}
	if _, err := env.engine.ProcessReply(deal.Id, "deal, $1800"); err != nil {
		t.Fatal(err)
	}

	// a counter after acceptance computes a move the machine forbids; the
	// deal parks in error for ops instead of silently dropping the reply
	env.classifier.cl = &common.Classification{
		Sentiment:            common.SentimentNeutral,
		ProposedAmount:       1900,
		RiskLevel:            common.RiskLow,
		NegotiationPotential: common.PotentialHigh,
	}
	if _, err := env.engine.ProcessReply(deal.Id, "actually, let's make it $1900"); !errors.Is(err, common.ErrStageTransition) {
		t.Fatalf("expected ErrStageTransition, got %v", err)
	}

	deal, err := env.engine.GetDeal(deal.Id)
	if err != nil {
		t.Fatal(err)
	}
	if deal.Stage != common.DealError {
		t.Errorf("stage = %s, wanted %s", deal.Stage, common.DealError)
	}
	if !deal.IsTerminal() {
		t.Error("expected the parked deal to be terminal")
	}

	// the reply that triggered the park is still on the record
	history, err := env.engine.Conversation(deal.Id)
	if err != nil {
		t.Fatal(err)
	}
	last := history[len(history)-1]
	if last.Direction != common.DirectionIn || last.RawContent != "actually, let's make it $1900" {
		t.Fatalf("expected the inbound reply to be persisted, got %+v", last)
	}
}

func TestProcessReplyBadInput(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.ProcessReply("1", ""); !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
	if _, err := env.engine.ProcessReply("404", "hello"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
