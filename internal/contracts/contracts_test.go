package contracts

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

type stubExtractor struct {
	terms *common.TermsSnapshot
	err   error
}

func (s *stubExtractor) ExtractTerms(deal *common.Deal, history []*common.CommunicationRecord) (*common.TermsSnapshot, error) {
	return s.terms, s.err
}

type stubRenderer struct {
	url string
	err error
}

func (s *stubRenderer) RenderContract(terms *common.TermsSnapshot) (string, error) {
	return s.url, s.err
}

type testEnv struct {
	trigger   *Trigger
	extractor *stubExtractor
	renderer  *stubRenderer

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
		extractor: &stubExtractor{err: errors.New("extractor down")},
		renderer:  &stubRenderer{url: "https://docs.example.com/c1.pdf"},
		db:        db,
		cfg:       cfg,
	}
	env.trigger = New(db, cfg, env.extractor, env.renderer, common.NewKeyLock())
	return env
}

func (env *testEnv) putDeal(t *testing.T, deal *common.Deal) {
	t.Helper()
	if err := env.db.Update(func(tx *bolt.Tx) error {
		return misc.PutTxJson(tx, env.cfg.Bucket.Deal, deal.Id, deal)
	}); err != nil {
		t.Fatal(err)
	}
}

func readyDeal(id string, amount float64) *common.Deal {
	return &common.Deal{
		Id:                   id,
		CampaignId:           "cmp1",
		CreatorId:            "cr1",
		BillingCustomerId:    "cus_123",
		Stage:                common.DealReadyForContract,
		Budget:               &common.BudgetConstraints{MaxBudget: 2000, Currency: "USD"},
		LatestClassification: &common.Classification{Sentiment: common.SentimentPositive, ProposedAmount: amount},
	}
}

func TestCreateContractDefaultTerms(t *testing.T) {
	env := newTestEnv(t)
	env.putDeal(t, readyDeal("1", 3000))

	ct, err := env.trigger.CreateContractFromDeal("1", nil)
	if err != nil {
		t.Fatal(err)
	}

	if ct.Status != common.ContractDrafting {
		t.Errorf("status = %s, wanted %s", ct.Status, common.ContractDrafting)
	}
	if ct.BillingCustomerId != "cus_123" {
		t.Errorf("billingCustomerId = %s", ct.BillingCustomerId)
	}
	if ct.DocumentURL != env.renderer.url {
		t.Errorf("documentUrl = %s, wanted the rendered one", ct.DocumentURL)
	}

	// extractor was down, so the 50/50 default split applies to the agreed 3000
	if ct.Terms.PaymentAmount != 3000 {
		t.Errorf("paymentAmount = %v, wanted 3000", ct.Terms.PaymentAmount)
	}
	if err := ct.Terms.Validate(); err != nil {
		t.Fatalf("default terms failed validation: %v", err)
	}
	if len(ct.Terms.Milestones) != 2 {
		t.Fatalf("milestones = %d, wanted 2", len(ct.Terms.Milestones))
	}
	if ct.Terms.Milestones[0].Amount != 1500 || ct.Terms.Milestones[1].Amount != 1500 {
		t.Errorf("split = %v / %v, wanted 1500 / 1500", ct.Terms.Milestones[0].Amount, ct.Terms.Milestones[1].Amount)
	}

	milestones, err := env.trigger.Milestones(ct.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(milestones) != 2 {
		t.Fatalf("stored milestones = %d, wanted 2", len(milestones))
	}
	for _, m := range milestones {
		if m.Status != common.MilestoneCreated {
			t.Errorf("milestone %s status = %s, wanted %s", m.Id, m.Status, common.MilestoneCreated)
		}
	}

	// the deal is consumed by the contract
	var deal common.Deal
	if err := env.db.View(func(tx *bolt.Tx) error {
		return misc.GetTxJson(tx, env.cfg.Bucket.Deal, "1", &deal)
	}); err != nil {
		t.Fatal(err)
	}
	if deal.Stage != common.DealContractCreated {
		t.Errorf("deal stage = %s, wanted %s", deal.Stage, common.DealContractCreated)
	}
}

func TestCreateContractIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.putDeal(t, readyDeal("1", 3000))

	first, err := env.trigger.CreateContractFromDeal("1", nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.trigger.CreateContractFromDeal("1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.Id != first.Id {
		t.Fatalf("expected the same contract, got %s and %s", first.Id, second.Id)
	}

	milestones, err := env.trigger.Milestones(first.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(milestones) != 2 {
		t.Fatalf("milestones = %d, wanted 2 (no duplicates)", len(milestones))
	}
}

func TestCreateContractRequiresReadyDeal(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.trigger.CreateContractFromDeal("404", nil); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	deal := readyDeal("1", 3000)
	deal.Stage = common.DealInNegotiation
	env.putDeal(t, deal)

	if _, err := env.trigger.CreateContractFromDeal("1", nil); !errors.Is(err, ErrDealNotReady) {
		t.Fatalf("expected ErrDealNotReady, got %v", err)
	}
}

func TestCreateContractUsesExtractedTerms(t *testing.T) {
	env := newTestEnv(t)
	env.putDeal(t, readyDeal("1", 3000))

	env.extractor.err = nil
	env.extractor.terms = &common.TermsSnapshot{
		Deliverables:  []string{"2 posts", "1 story"},
		PaymentAmount: 2800,
		Currency:      "USD",
		Milestones: []*common.MilestoneTerm{
			{Description: "Upfront", Amount: 1000},
			{Description: "On posting", Amount: 1000},
			{Description: "After 30 days live", Amount: 800},
		},
	}

	ct, err := env.trigger.CreateContractFromDeal("1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ct.Terms.PaymentAmount != 2800 {
		t.Errorf("paymentAmount = %v, wanted the extracted 2800", ct.Terms.PaymentAmount)
	}
	if len(ct.Terms.Milestones) != 3 {
		t.Fatalf("milestones = %d, wanted 3", len(ct.Terms.Milestones))
	}
}

func TestDefaultTermsRounding(t *testing.T) {
	env := newTestEnv(t)
	// an odd cent cannot split in two; the last slice absorbs it
	env.putDeal(t, readyDeal("1", 1000.01))

	ct, err := env.trigger.CreateContractFromDeal("1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ct.Terms.Validate(); err != nil {
		t.Fatalf("terms failed validation: %v", err)
	}
	if ct.Terms.Milestones[0].Amount != 500 {
		t.Errorf("first slice = %v, wanted 500", ct.Terms.Milestones[0].Amount)
	}
	if ct.Terms.Milestones[1].Amount != 500.01 {
		t.Errorf("last slice = %v, wanted 500.01", ct.Terms.Milestones[1].Amount)
	}
}

func TestAdvanceStatus(t *testing.T) {
	env := newTestEnv(t)
	env.putDeal(t, readyDeal("1", 3000))

	ct, err := env.trigger.CreateContractFromDeal("1", nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, status := range []string{common.ContractAwaiting, common.ContractSigned, common.ContractActive} {
		if ct, err = env.trigger.AdvanceStatus(ct.Id, status); err != nil {
			t.Fatalf("advance to %s: %v", status, err)
		}
	}
	if ct.Status != common.ContractActive {
		t.Fatalf("status = %s, wanted %s", ct.Status, common.ContractActive)
	}

	// no going back
	if _, err = env.trigger.AdvanceStatus(ct.Id, common.ContractDrafting); !errors.Is(err, common.ErrContractStatus) {
		t.Fatalf("expected ErrContractStatus, got %v", err)
	}
	// and no skipping off the map
	if _, err = env.trigger.AdvanceStatus(ct.Id, "void"); !errors.Is(err, common.ErrContractStatus) {
		t.Fatalf("expected ErrContractStatus, got %v", err)
	}
}
