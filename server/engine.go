package server

import (
	"log"
	"time"
)

// newDealEngine starts the background sweeps. Invoices that failed to create
// the first time get retried here so a flaky gateway never strands a
// milestone in created.
func newDealEngine(srv *Server) {
	sweepTicker := time.NewTicker(time.Duration(srv.Cfg.Policy.InvoiceSweep) * time.Minute)
	go func() {
		for range sweepTicker.C {
			if swept := srv.Payments.SweepInvoices(); swept > 0 {
				log.Println("Invoice sweep created", swept, "invoices")
			}
		}
	}()
}
