//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

var testPool *pgxpool.Pool

// TestMain uses TEST_DATABASE_URL when set; otherwise it runs a throwaway
// postgres:14 container on a random host port.
func TestMain(m *testing.M) {
	ctx := context.Background()

	dsn := os.Getenv("TEST_DATABASE_URL")
	stop := func() {}
	if dsn == "" {
		var err error
		dsn, stop, err = startContainer()
		if err != nil {
			log.Fatalf("postgres container: %v (is Docker running?)", err)
		}
	}

	var err error
	for i := 1; i <= 20; i++ {
		testPool, err = Connect(ctx, dsn)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		stop()
		log.Fatalf("connect %s: %v", dsn, err)
	}
	if err := EnsureSchema(ctx, testPool); err != nil {
		stop()
		log.Fatalf("schema: %v", err)
	}

	code := m.Run()

	testPool.Close()
	stop()
	os.Exit(code)
}

func startContainer() (dsn string, stop func(), err error) {
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_DB=checkout_test",
		"-e", "POSTGRES_USER=checkout",
		"-e", "POSTGRES_PASSWORD=checkout",
		"postgres:14",
	).Output()
	if err != nil {
		return "", nil, err
	}
	id := strings.TrimSpace(string(out))
	stop = func() { _ = exec.Command("docker", "stop", id).Run() }

	port, err := exec.Command("docker", "port", id, "5432/tcp").Output()
	if err != nil {
		stop()
		return "", nil, err
	}
	// "127.0.0.1:49153"
	hostPort := strings.TrimSpace(strings.SplitN(string(port), "\n", 2)[0])
	return fmt.Sprintf("postgres://checkout:checkout@%s/checkout_test?sslmode=disable", hostPort), stop, nil
}

func cleanup(t *testing.T) {
	t.Helper()
	if _, err := testPool.Exec(context.Background(), `TRUNCATE checkout_attempts`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
