package market

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatchReloadsCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := SaveCatalogFile(path, []Price{{Item: "printer", Price: 15000}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	catalog := NewCatalog([]Price{{Item: "printer", Price: 15000}}, DefaultEditCosts, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, catalog, zap.NewNop()) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := os.WriteFile(path, []byte("items:\n  - item: printer\n    price: 9000\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if match, ok := catalog.Lookup("printer"); ok && match.Price == 9000 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch returned error: %v", err)
	}

	if match, _ := catalog.Lookup("printer"); match.Price != 9000 {
		t.Fatalf("expected reloaded price 9000, got %v", match.Price)
	}
}
