package data

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bobmcallan/fundwatch/internal/common"
	"github.com/bobmcallan/fundwatch/internal/storage/remote"
	tcommon "github.com/bobmcallan/fundwatch/tests/common"
)

// testStore creates a remote config store connected to the shared
// SurrealDB container with a unique database per test for isolation.
func testStore(t *testing.T) *remote.Store {
	t.Helper()

	sc := tcommon.StartSurrealDB(t)

	cfg := common.SyncConfig{
		Enabled:   true,
		Address:   sc.Address(),
		Namespace: "fundwatch_data_test",
		Database:  fmt.Sprintf("d_%s_%d", strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()), time.Now().UnixNano()%100000),
		Username:  "root",
		Password:  "root",
	}

	store, err := remote.NewStore(common.NewSilentLogger(), cfg)
	if err != nil {
		t.Fatalf("create remote store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// testContext returns a background context.
func testContext() context.Context {
	return context.Background()
}

func testContextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
