//go:build scenario

package combat

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/api"
	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/service"
	"github.com/ttrpg-tools/crossfire/internal/combat/storage/sqlite"
	mcpclient "github.com/ttrpg-tools/crossfire/internal/mcp"
)

func scenarioTimeout() time.Duration {
	return 10 * time.Second
}

// startCombatBackend serves the combat API over a sqlite journal with
// deterministic identifiers, seeds, and clock. Seeds count up from one, so
// within a plane the earlier declaration wins an initiative tie and scripts
// can assert exact turn order.
func startCombatBackend(t *testing.T) *mcpclient.Client {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "combat.db"), event.DefaultRegistry())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})

	clock := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	ids := 0
	seeds := int64(0)
	svc, err := service.New(service.Config{
		Journal:   store,
		Sessions:  store,
		Snapshots: store,
		Tokens:    store,
		Now:       func() time.Time { return clock },
		NewID: func() (string, error) {
			ids++
			return fmt.Sprintf("cf-%03d", ids), nil
		},
		NewSeed: func() (int64, error) {
			seeds++
			return seeds, nil
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)

	srv := httptest.NewServer(api.NewHandler(svc))
	t.Cleanup(srv.Close)

	client, err := mcpclient.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new combat client: %v", err)
	}
	return client
}

func repoRoot(t *testing.T) string {
	t.Helper()

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve runtime caller")
	}

	dir := filepath.Dir(filename)
	for {
		candidate := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(candidate); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	t.Fatalf("go.mod not found from %s", filename)
	return ""
}
