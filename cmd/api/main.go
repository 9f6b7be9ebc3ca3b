package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"careflow/auth"
	"careflow/billing"
	"careflow/carerequest"
	"careflow/db"
	"careflow/journal"
	"careflow/ledger"
	"careflow/nurse"
	"careflow/outbox"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	journalRepo := journal.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	billingRepo := billing.NewRepository(pool)
	nurseRepo := nurse.NewRepository(pool)

	requestService := carerequest.NewService(pool, carerequest.NewRepository(pool), carerequest.Collaborators{
		Nurses:  nurseRepo,
		Journal: journalRepo,
		Outbox:  outbox.Writer{},
		Ledger:  ledgerRepo,
		Billing: billingRepo,
	})

	// Backfill journal entries for rows that predate the journal.
	if n, err := journalRepo.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap journal: %v", err)
	} else if n > 0 {
		log.Printf("journal bootstrap: wrote %d snapshot events", n)
	}

	nurseService := nurse.NewService(nurseRepo)

	server := &Server{
		authService:    auth.NewService(auth.NewRepository(pool), jwtSecret, nurseService),
		nurseService:   nurseService,
		requestService: requestService,
		payoutService:  ledger.NewService(pool, ledgerRepo),
		billingService: billing.NewService(pool, billingRepo),
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("care lifecycle API listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
