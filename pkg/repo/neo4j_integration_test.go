//go:build integration

package repo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/require"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func wipe(ctx context.Context, driver neo4j.DriverWithContext) {
	sess := driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)
	sess.Run(ctx, "MATCH (n) WHERE n:Listing OR n:Model OR n:BotConfig DETACH DELETE n", nil)
}

func init() {
	extraStores["neo4j"] = func(t *testing.T, now func() time.Time) ListingStore {
		ctx := context.Background()
		s, err := OpenNeo4j(ctx,
			envOr("NEO4J_URL", "neo4j://localhost:7687"),
			envOr("NEO4J_USER", "neo4j"),
			envOr("NEO4J_PASS", "password"),
			"")
		require.NoError(t, err)
		wipe(ctx, s.driver)
		s.now = now
		t.Cleanup(func() {
			wipe(ctx, s.driver)
			s.Close()
		})
		return s
	}
}
