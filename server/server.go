package server

import (
	"fmt"
	"log"

	"github.com/boltdb/bolt"
	"github.com/gin-gonic/gin"
	"github.com/swayops/dealflow/config"
	"github.com/swayops/dealflow/internal/common"
	"github.com/swayops/dealflow/internal/contracts"
	"github.com/swayops/dealflow/internal/escalation"
	"github.com/swayops/dealflow/internal/negotiation"
	"github.com/swayops/dealflow/internal/payments"
	"github.com/swayops/dealflow/misc"
	"github.com/swayops/dealflow/platforms/classify"
	"github.com/swayops/dealflow/platforms/docrender"
	"github.com/swayops/dealflow/platforms/mail"
	"github.com/swayops/dealflow/platforms/swipe"
)

type Server struct {
	Cfg *config.Config

	db *bolt.DB

	Negotiations *negotiation.Engine
	Escalations  *escalation.Queue
	Contracts    *contracts.Trigger
	Payments     *payments.Engine
}

func New(cfg *config.Config, r *gin.Engine) (*Server, error) {
	db := misc.OpenDB(cfg.DBPath, cfg.DBName)

	srv := &Server{
		Cfg: cfg,
		db:  db,
	}

	if err := srv.initializeDB(); err != nil {
		return nil, err
	}

	locks := common.NewKeyLock()
	classifier := classify.New(cfg)
	transport := mail.New(cfg)
	gateway := swipe.New(cfg.Stripe.Key, cfg.Sandbox)
	renderer := docrender.New(cfg)

	srv.Escalations = escalation.New(db, cfg)
	srv.Negotiations = negotiation.New(db, cfg, classifier, classify.NewFallback(), transport, srv.Escalations, locks)
	srv.Contracts = contracts.New(db, cfg, classifier, renderer, locks)
	srv.Payments = payments.New(db, cfg, gateway, locks)

	srv.initRoutes(r)

	newDealEngine(srv)

	return srv, nil
}

func (s *Server) initializeDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range append(s.Cfg.Bucket.All, "index") {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		for _, name := range s.Cfg.Bucket.All {
			if err := misc.InitIndex(tx, name, 1); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Server) Run(r *gin.Engine) error {
	return r.Run(s.Cfg.Host + ":" + s.Cfg.Port)
}

func (s *Server) Close() error {
	return s.db.Close()
}

// Alert logs and, outside the sandbox, emails the admin.
func (s *Server) Alert(msg string, err error) {
	log.Println("ALERT:", msg, err)

	if s.Cfg.Sandbox || s.Cfg.MailClient() == nil || s.Cfg.AdminEmail == "" {
		return
	}

	body := msg
	if err != nil {
		body = fmt.Sprintf("%s: %v", msg, err)
	}
	if _, mErr := s.Cfg.MailClient().SendMessage(body, "Dealflow Alert: "+msg,
		s.Cfg.AdminEmail, "Admin", []string{"alert"}); mErr != nil {
		log.Println("Failed to mail alert!", mErr)
	}
}
