//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/earth-harvest/checkout-api/internal/domain"
	pconfig "github.com/earth-harvest/checkout-api/internal/platform/config"
	pfirestore "github.com/earth-harvest/checkout-api/internal/platform/firestore"
	"github.com/earth-harvest/checkout-api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestPendingOrderRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

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
		ProjectID:    "pending-orders-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewPendingOrderRepository(provider)
	if err != nil {
		t.Fatalf("new pending order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	order := domain.PendingOrder{
		OrderID:   "ord_integration",
		SessionID: "cs_integration",
		UserID:    "user-1",
		ProductID: "prod-1",
		Amount:    17998,
		Status:    domain.PendingOrderStatusPendingPayment,
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Hour),
	}

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, order); err == nil {
		t.Fatal("expected conflict on duplicate create")
	} else {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			t.Fatalf("expected conflict repository error, got %v", err)
		}
	}

	got, err := repo.Get(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.PendingOrderStatusPendingPayment || got.Amount != 17998 {
		t.Fatalf("unexpected order %#v", got)
	}

	stale, err := repo.ListStale(ctx, now.Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].OrderID != order.OrderID {
		t.Fatalf("expected the seeded order in the stale list, got %v", stale)
	}

	// Concurrent sweepers race to claim the same pending entry; exactly one
	// compare-and-swap should win.
	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.UpdateStatus(ctx, order.OrderID, domain.PendingOrderStatusPendingPayment, domain.PendingOrderStatusCanceled)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsConflict() {
				conflicts++
				return
			}
			t.Errorf("unexpected update error: %v", err)
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winning transition, got %d (conflicts %d)", wins, conflicts)
	}

	final, err := repo.Get(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if final.Status != domain.PendingOrderStatusCanceled {
		t.Fatalf("expected canceled status, got %s", final.Status)
	}

	remaining, err := repo.ListStale(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("list stale after cancel: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("canceled orders must leave the stale list, got %v", remaining)
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
