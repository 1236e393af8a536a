package swipe // Stripe combined with sway.. get it?

import (
	"errors"

	"github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/charge"
	"github.com/stripe/stripe-go/currency"
	"github.com/stripe/stripe-go/customer"

	"github.com/swayops/dealflow/internal/common"
	"github.com/swayops/dealflow/internal/payments"
	"github.com/swayops/dealflow/misc"
)

var (
	ErrAmount     = errors.New("Attempting to charge zero dollar value")
	ErrCreditCard = errors.New("Credit card missing")
	ErrCustomer   = errors.New("Unrecognized customer")
)

// Processor implements the payments gateway on top of Stripe. Invoices are
// our own records (Stripe only sees the charge); the invoice id rides along
// in the charge metadata so ops can reconcile either way.
type Processor struct {
	sandbox bool
}

func New(key string, sandbox bool) *Processor {
	stripe.Key = key
	return &Processor{sandbox: sandbox}
}

func (p *Processor) CreateInvoice(customerId string, m *common.PaymentMilestone) (string, error) {
	if m.Amount <= 0 {
		return "", ErrAmount
	}

	if !p.sandbox && customerId == "" {
		return "", ErrCustomer
	}

	return "inv-" + misc.PseudoUUID(), nil
}

func (p *Processor) Charge(customerId, invoiceId string, amount float64) (*payments.ChargeResult, error) {
	if amount == 0 {
		return nil, ErrAmount
	}

	if p.sandbox {
		return &payments.ChargeResult{TransactionId: "sb-txn-" + misc.PseudoUUID()}, nil
	}

	cust, err := customer.Get(customerId, nil)
	if err != nil {
		return &payments.ChargeResult{Declined: true, Reason: ErrCustomer.Error()}, nil
	}

	// Expects a value in dollars
	chargeParams := &stripe.ChargeParams{
		Amount:   uint64(amount * 100),
		Currency: currency.USD,
		Customer: cust.ID,
		Params: stripe.Params{
			Meta: map[string]string{
				"invoiceId": invoiceId,
			},
		},
	}

	if cust.Sources != nil && len(cust.Sources.Values) > 0 {
		chargeParams.SetSource(cust.Sources.Values[0].Card.ID)
	} else {
		return &payments.ChargeResult{Declined: true, Reason: ErrCreditCard.Error()}, nil
	}

	ch, err := charge.New(chargeParams)
	if err != nil {
		if sErr, ok := err.(*stripe.Error); ok && sErr.Type == stripe.CardErr {
			// a definite gateway decline; retryable later
			return &payments.ChargeResult{Declined: true, Reason: sErr.Msg}, nil
		}
		// network failures, 5xx and everything else we cannot read:
		// the outcome is unknown and must not be guessed
		return &payments.ChargeResult{Ambiguous: true, Reason: err.Error()}, nil
	}

	return &payments.ChargeResult{TransactionId: ch.ID}, nil
}
