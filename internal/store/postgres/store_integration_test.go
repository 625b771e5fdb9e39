package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"skipline/internal/models"
	"skipline/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestJoinConcurrencyAssignsDistinctPositions(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	const n = 16
	queue := createQueue(t, ctx, st, n, 5)

	var wg sync.WaitGroup
	positions := make(chan int, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := st.Join(ctx, store.JoinInput{QueueID: queue.QueueID, HolderName: "Holder", Phone: fmt.Sprintf("%010d", i)})
			if err != nil {
				errs <- err
				return
			}
			positions <- result.Entry.Position
		}(i)
	}
	wg.Wait()
	close(positions)
	close(errs)

	for err := range errs {
		t.Fatalf("join error: %v", err)
	}
	var got []int
	for position := range positions {
		got = append(got, position)
	}
	sort.Ints(got)
	for i, position := range got {
		if position != i+1 {
			t.Fatalf("expected positions 1..%d, got %v", n, got)
		}
	}
}

func TestCallNextConcurrency(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createQueue(t, ctx, st, 10, 5)
	joinEntry(t, ctx, st, queue.QueueID, "1111111111")
	joinEntry(t, ctx, st, queue.QueueID, "2222222222")

	var wg sync.WaitGroup
	results := make(chan store.CallResult, 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := st.CallNext(ctx, store.CallNextInput{QueueID: queue.QueueID})
			if err != nil {
				errs <- err
				return
			}
			results <- result
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("call next error: %v", err)
	}
	var ids []string
	for result := range results {
		ids = append(ids, result.Entry.EntryID)
	}
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Fatalf("expected two distinct entries, got %v", ids)
	}

	_, err := st.CallNext(ctx, store.CallNextInput{QueueID: queue.QueueID})
	if !errors.Is(err, store.ErrNothingWaiting) {
		t.Fatalf("expected nothing waiting, got %v", err)
	}
	got, err := st.GetQueue(ctx, queue.QueueID)
	if err != nil {
		t.Fatalf("get queue: %v", err)
	}
	if got.CurrentServingPosition != 2 {
		t.Fatalf("expected cursor 2, got %d", got.CurrentServingPosition)
	}
}

func TestJoinCapacityAndDuplicate(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createQueue(t, ctx, st, 2, 5)
	a := joinEntry(t, ctx, st, queue.QueueID, "1111111111")
	b := joinEntry(t, ctx, st, queue.QueueID, "2222222222")
	if a.EstimatedWait != 0 || b.EstimatedWait != 5 {
		t.Fatalf("unexpected estimates %d %d", a.EstimatedWait, b.EstimatedWait)
	}

	_, err := st.Join(ctx, store.JoinInput{QueueID: queue.QueueID, HolderName: "C", Phone: "3333333333"})
	if !errors.Is(err, store.ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}

	_, err = st.Join(ctx, store.JoinInput{QueueID: queue.QueueID, HolderName: "A", Phone: "1111111111"})
	var dup *store.AlreadyInQueueError
	if !errors.As(err, &dup) || dup.Entry.EntryID != a.EntryID {
		t.Fatalf("expected already in queue with entry %s, got %v", a.EntryID, err)
	}
}

func TestTransitionsAndHistory(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createQueue(t, ctx, st, 5, 5)
	entry := joinEntry(t, ctx, st, queue.QueueID, "1111111111")

	if _, err := st.MarkServed(ctx, store.EntryActionInput{EntryID: entry.EntryID}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := st.CallNext(ctx, store.CallNextInput{QueueID: queue.QueueID}); err != nil {
		t.Fatalf("call next: %v", err)
	}
	served, err := st.MarkServed(ctx, store.EntryActionInput{EntryID: entry.EntryID})
	if err != nil {
		t.Fatalf("mark served: %v", err)
	}
	if served.Queue.TotalServed != 1 || served.Entry.Status != models.StatusServed || served.Entry.ServedAt == nil {
		t.Fatalf("unexpected served result %+v", served)
	}

	events, err := st.ListEntryEvents(ctx, entry.EntryID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if broken, ok := store.VerifyEntryEvents(events); !ok {
		t.Fatalf("history broken at %d", broken)
	}
}

func TestExpireCalled(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queue := createQueue(t, ctx, st, 5, 5)
	entry := joinEntry(t, ctx, st, queue.QueueID, "1111111111")
	calledAt := time.Now().UTC().Add(-10 * time.Minute)
	if _, err := st.CallNext(ctx, store.CallNextInput{QueueID: queue.QueueID, CalledAt: calledAt}); err != nil {
		t.Fatalf("call next: %v", err)
	}

	sweptAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	expired, err := st.ExpireCalled(ctx, store.ExpireCalledInput{
		Cutoff:     time.Now().UTC().Add(-5 * time.Minute),
		OccurredAt: sweptAt,
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0].EntryID != entry.EntryID {
		t.Fatalf("unexpected expired %+v", expired)
	}
	stats, err := st.Stats(ctx, queue.QueueID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Missed != 1 {
		t.Fatalf("expected 1 missed, got %+v", stats)
	}
	events, err := st.ListEntryEvents(ctx, entry.EntryID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if last := events[len(events)-1]; last.Type != "entry.expired" || !last.CreatedAt.Equal(sweptAt) {
		t.Fatalf("expected expired event at %v, got %+v", sweptAt, last)
	}
}

func createQueue(t *testing.T, ctx context.Context, st *Store, capacity, minutes int) models.Queue {
	t.Helper()
	queue, err := st.CreateQueue(ctx, store.CreateQueueInput{
		OwnerID:          uuid.NewString(),
		Name:             "Front desk",
		Category:         models.CategoryClinic,
		MaxCapacity:      capacity,
		PerPersonMinutes: minutes,
	})
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	return queue
}

func joinEntry(t *testing.T, ctx context.Context, st *Store, queueID, phone string) models.Entry {
	t.Helper()
	result, err := st.Join(ctx, store.JoinInput{QueueID: queueID, HolderName: "Holder", Phone: phone})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	return result.Entry
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execAdmin(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = execAdmin(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	}
	return NewStore(pool), cleanup
}

func execAdmin(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
