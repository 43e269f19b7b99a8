//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	pconfig "github.com/digital-play/api/internal/platform/config"
	pfirestore "github.com/digital-play/api/internal/platform/firestore"
	"github.com/digital-play/api/internal/repositories"
)

func TestInventoryRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "inventory-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewInventoryRepository(provider)
	if err != nil {
		t.Fatalf("new inventory repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	seed := func(id string, stock int64) {
		t.Helper()
		doc := map[string]any{
			"slug":       id,
			"name":       "Product " + id,
			"basePrice":  int64(5000),
			"stock":      stock,
			"categoryId": "cat_test",
			"isPhysical": false,
			"isFeatured": false,
			"createdAt":  now,
			"updatedAt":  now,
		}
		if _, err := client.Collection(productCollection).Doc(id).Set(ctx, doc); err != nil {
			t.Fatalf("seed product %s: %v", id, err)
		}
	}
	seed("prod_a", 5)
	seed("prod_b", 2)

	result, err := repo.Decrement(ctx, repositories.StockDecrementRequest{
		Lines: []repositories.StockLine{
			{ProductID: "prod_a", Quantity: 3},
			{ProductID: "prod_b", Quantity: 1},
		},
		OrderID: "ord_test_1",
		Reason:  "checkout",
		Now:     now,
	})
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if got := result.Levels["prod_a"].OnHand; got != 2 {
		t.Fatalf("expected prod_a on hand 2, got %d", got)
	}
	if got := result.Levels["prod_b"].OnHand; got != 1 {
		t.Fatalf("expected prod_b on hand 1, got %d", got)
	}

	// A short line fails the whole transaction: prod_a must stay untouched.
	_, err = repo.Decrement(ctx, repositories.StockDecrementRequest{
		Lines: []repositories.StockLine{
			{ProductID: "prod_a", Quantity: 1},
			{ProductID: "prod_b", Quantity: 2},
		},
		OrderID: "ord_test_2",
		Reason:  "checkout",
		Now:     now.Add(time.Second),
	})
	if err == nil {
		t.Fatalf("expected insufficient stock error")
	}
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected inventory error, got %T %v", err, err)
	}
	if invErr.Code != repositories.InventoryErrorInsufficientStock {
		t.Fatalf("expected insufficient stock code, got %s", invErr.Code)
	}
	if invErr.ProductID != "prod_b" {
		t.Fatalf("expected failing product prod_b, got %q", invErr.ProductID)
	}
	level, err := repo.GetStock(ctx, "prod_a")
	if err != nil {
		t.Fatalf("get stock after failed decrement: %v", err)
	}
	if level.OnHand != 2 {
		t.Fatalf("expected prod_a untouched at 2, got %d", level.OnHand)
	}

	restock, err := repo.Increment(ctx, repositories.StockIncrementRequest{
		Lines: []repositories.StockLine{
			{ProductID: "prod_a", Quantity: 3},
			{ProductID: "prod_missing", Quantity: 1},
		},
		OrderID: "ord_test_1",
		Reason:  "cancellation",
		Now:     now.Add(2 * time.Second),
	})
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got := restock.Levels["prod_a"].OnHand; got != 5 {
		t.Fatalf("expected prod_a restocked to 5, got %d", got)
	}
	if _, ok := restock.Levels["prod_missing"]; ok {
		t.Fatalf("expected missing product to be skipped")
	}

	setLevel, err := repo.SetStock(ctx, "prod_b", 40, now.Add(3*time.Second))
	if err != nil {
		t.Fatalf("set stock: %v", err)
	}
	if setLevel.OnHand != 40 {
		t.Fatalf("expected prod_b set to 40, got %d", setLevel.OnHand)
	}

	lowPage, err := repo.ListLowStock(ctx, repositories.LowStockQuery{Threshold: 10})
	if err != nil {
		t.Fatalf("list low stock: %v", err)
	}
	if len(lowPage.Items) != 1 {
		t.Fatalf("expected 1 low stock item, got %d", len(lowPage.Items))
	}
	if lowPage.Items[0].ProductID != "prod_a" {
		t.Fatalf("expected prod_a in low stock list, got %s", lowPage.Items[0].ProductID)
	}
}

func TestInventoryRepositoryConcurrentLastUnit(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "inventory-race-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewInventoryRepository(provider)
	if err != nil {
		t.Fatalf("new inventory repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	doc := map[string]any{
		"slug":       "prod_last",
		"name":       "Product prod_last",
		"basePrice":  int64(5000),
		"stock":      int64(1),
		"categoryId": "cat_test",
		"isPhysical": false,
		"isFeatured": false,
		"createdAt":  now,
		"updatedAt":  now,
	}
	if _, err := client.Collection(productCollection).Doc("prod_last").Set(ctx, doc); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	// Two checkouts race for the single remaining unit.
	start := make(chan struct{})
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		orderID := fmt.Sprintf("ord_race_%d", i)
		go func(orderID string) {
			<-start
			_, err := repo.Decrement(ctx, repositories.StockDecrementRequest{
				Lines:   []repositories.StockLine{{ProductID: "prod_last", Quantity: 1}},
				OrderID: orderID,
				Reason:  "checkout",
				Now:     time.Now().UTC(),
			})
			results <- err
		}(orderID)
	}
	close(start)

	var wins, shortfalls int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			wins++
			continue
		}
		var invErr *repositories.InventoryError
		if !errors.As(err, &invErr) {
			t.Fatalf("expected inventory error, got %T %v", err, err)
		}
		if invErr.Code != repositories.InventoryErrorInsufficientStock {
			t.Fatalf("expected insufficient stock code, got %s", invErr.Code)
		}
		shortfalls++
	}
	if wins != 1 || shortfalls != 1 {
		t.Fatalf("expected exactly one winner for the last unit, got %d wins and %d shortfalls", wins, shortfalls)
	}

	level, err := repo.GetStock(ctx, "prod_last")
	if err != nil {
		t.Fatalf("get stock after race: %v", err)
	}
	if level.OnHand != 0 {
		t.Fatalf("expected stock drained to 0, got %d", level.OnHand)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
