package stores

import (
	"context"
	"path/filepath"
	"testing"
)

// setupHistoryStore creates an in-memory history store for testing
func setupHistoryStore(t *testing.T) *HistoryStore {
	t.Helper()

	store, err := OpenHistoryStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open history store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestHistoryStoreLifecycle(t *testing.T) {
	store, err := NewHistoryStore(HistoryConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestHistoryStoreRequiresPath(t *testing.T) {
	if _, err := NewHistoryStore(HistoryConfig{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestHistoryStoreMigrationsIdempotent(t *testing.T) {
	store := setupHistoryStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	var count int
	if err := store.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM transitions").Scan(&count); err != nil {
		t.Fatalf("transitions table missing: %v", err)
	}
}

func TestHistoryStoreRecordAndList(t *testing.T) {
	store := setupHistoryStore(t)
	ctx := context.Background()

	records := []*Transition{
		{CampaignID: "c-1", ClusterName: "web", InstanceID: "i-1", FromState: "initial", ToState: "replacing"},
		{CampaignID: "c-1", ClusterName: "web", InstanceID: "i-1", FromState: "replacing", ToState: "terminated"},
		{CampaignID: "c-1", ClusterName: "web", InstanceID: "i-1", FromState: "terminated", ToState: "terminated", Completed: true},
		{CampaignID: "c-2", ClusterName: "api", InstanceID: "i-9", FromState: "initial", ToState: "replacing"},
	}
	for _, r := range records {
		if err := store.Record(ctx, r); err != nil {
			t.Fatalf("failed to record transition: %v", err)
		}
		if r.ID == 0 {
			t.Error("expected id to be assigned")
		}
		if r.RecordedAt.IsZero() {
			t.Error("expected recorded_at to be set")
		}
	}

	campaign, err := store.ListByCampaign(ctx, "c-1")
	if err != nil {
		t.Fatalf("failed to list campaign: %v", err)
	}
	if len(campaign) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(campaign))
	}
	if campaign[0].ToState != "replacing" || !campaign[2].Completed {
		t.Errorf("unexpected campaign order: %+v", campaign)
	}

	recent, err := store.ListByCluster(ctx, "web", 2)
	if err != nil {
		t.Fatalf("failed to list cluster: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(recent))
	}
	if !recent[0].Completed {
		t.Errorf("expected newest transition first, got %+v", recent[0])
	}

	all, err := store.ListByCluster(ctx, "web", 0)
	if err != nil {
		t.Fatalf("failed to list cluster: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 transitions without limit, got %d", len(all))
	}
}

func TestHistoryStoreOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := OpenHistoryStore(ctx, path)
	if err != nil {
		t.Fatalf("failed to open history store: %v", err)
	}
	if err := store.Record(ctx, &Transition{CampaignID: "c-1", ClusterName: "web", InstanceID: "i-1", FromState: "initial", ToState: "replacing"}); err != nil {
		t.Fatalf("failed to record transition: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened, err := OpenHistoryStore(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen history store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.ListByCampaign(ctx, "c-1")
	if err != nil {
		t.Fatalf("failed to list campaign: %v", err)
	}
	if len(got) != 1 || got[0].InstanceID != "i-1" {
		t.Errorf("unexpected transitions after reopen: %+v", got)
	}
}
