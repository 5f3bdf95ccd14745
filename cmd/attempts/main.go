// Command attempts lets support list and resolve checkouts whose payment was
// captured but whose activation failed.
//
//	attempts -config config.yaml list
//	attempts -config config.yaml resolve <session-id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v4"

	"checkout-orchestrator/internal/config"
	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/repository"
	pg "checkout-orchestrator/internal/infra/db/postgres"
)

func main() {
	cfgPath, dev := config.ParseFlags()
	cfg, err := config.LoadConfig(cfgPath, dev)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	repo := pg.NewCheckoutAttemptRepo(pool)
	args := flag.Args()

	switch {
	case len(args) == 1 && args[0] == "list":
		list(ctx, repo)
	case len(args) == 2 && args[0] == "resolve":
		resolve(ctx, pg.NewTxManager(pool), repo, args[1])
	default:
		fmt.Fprintln(os.Stderr, "usage: attempts [-config path] list | resolve <session-id>")
		os.Exit(2)
	}
}

func list(ctx context.Context, repo repository.CheckoutAttemptRepository) {
	rows, err := repo.ListUnresolvedActivationFailures(ctx, repository.NoTX, time.Now(), 200)
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	if len(rows) == 0 {
		fmt.Println("No unresolved activation failures.")
		return
	}
	for _, a := range rows {
		fmt.Printf("  - %s kind=%s intent=%s payment=%s amount=%d at=%s: %s\n",
			a.ID, a.Kind, a.IntentID, a.ProofPaymentID, a.Amount, a.UpdatedAt.Format(time.RFC3339), a.Message)
	}
}

var errAlreadyResolved = errors.New("already resolved")

func resolve(ctx context.Context, tm repository.TransactionManager, repo repository.CheckoutAttemptRepository, id string) {
	err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		a, err := repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Failure != model.FailureActivation {
			return fmt.Errorf("attempt %s is %s, not an activation failure", id, a.Phase)
		}
		if a.Resolved {
			return errAlreadyResolved
		}
		return repo.MarkResolved(ctx, tx, id)
	})
	switch {
	case errors.Is(err, errAlreadyResolved):
		fmt.Printf("%s already resolved.\n", id)
	case errors.Is(err, domain.ErrNotFound):
		log.Fatalf("no attempt %s", id)
	case err != nil:
		log.Fatalf("resolve: %v", err)
	default:
		fmt.Printf("resolved %s\n", id)
	}
}
