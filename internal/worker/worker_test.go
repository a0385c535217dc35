package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"meetbook/internal/config"
	"meetbook/internal/database"
	"meetbook/internal/models"
	"meetbook/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	worker := NewNotificationWorker(db, notifier, nil, "", RetryPolicy{}, nil)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, "booking_created", testBooking("b-1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if got := notifier.calls(); len(got) != 1 || got[0] != "booking_created:b-1" {
		t.Fatalf("unexpected notifier calls: %v", got)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{err: errors.New("boom")}
	worker := NewNotificationWorker(db, notifier, nil, "", RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, nil)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, "booking_created", testBooking("b-2")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusRetry {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}

	pending, err := db.GetPendingNotificationTasks(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("task must wait for next_retry_at, got %d pending", len(pending))
	}
}

func TestProcessTaskFail(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{err: errors.New("fatal")}
	worker := NewNotificationWorker(db, notifier, nil, "", RetryPolicy{MaxRetries: 1}, nil)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, "booking_cancelled", testBooking("b-3")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
	failed, err := db.GetFailedNotificationTasks(ctx)
	if err != nil {
		t.Fatalf("failed tasks: %v", err)
	}
	if len(failed) != 1 || failed[0].LastError == nil || *failed[0].LastError != "fatal" {
		t.Fatalf("unexpected failed tasks: %+v", failed)
	}
}

func TestProcessTaskBadPayload(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	worker := NewNotificationWorker(db, notifier, nil, "", RetryPolicy{}, nil)

	ctx := context.Background()
	task := models.NotificationTask{EventType: "booking_created", BookingID: "x", Payload: "invalid json"}
	if err := db.CreateNotificationTask(ctx, &task); err != nil {
		t.Fatalf("create: %v", err)
	}
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
	if len(notifier.calls()) != 0 {
		t.Fatalf("notifier must not be called for undecodable payload")
	}
}

func TestNotificationWorker_Enqueue(t *testing.T) {
	worker := NewNotificationWorker(repository.NewMemoryStore(), &fakeNotifier{}, nil, "", RetryPolicy{}, nil)
	ctx := context.Background()

	t.Run("ValidTask", func(t *testing.T) {
		if err := worker.Enqueue(ctx, "booking_created", testBooking("b-1")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	})

	t.Run("InvalidEventType", func(t *testing.T) {
		if err := worker.Enqueue(ctx, "", testBooking("b-1")); err == nil {
			t.Fatalf("expected error for empty event type")
		}
	})

	t.Run("InvalidBookingID", func(t *testing.T) {
		if err := worker.Enqueue(ctx, "booking_created", &models.Booking{}); err == nil {
			t.Fatalf("expected error for missing booking id")
		}
		if err := worker.Enqueue(ctx, "booking_created", nil); err == nil {
			t.Fatalf("expected error for nil booking")
		}
	})
}

func TestNotificationWorker_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := repository.NewMemoryStore()
	notifier := &fakeNotifier{err: errors.New("down")}
	worker := NewNotificationWorker(store, notifier, client, "test:notifications", RetryPolicy{MaxRetries: 1}, nil)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, "booking_confirmed", testBooking("b-9")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok := worker.tryLocalQueue(); ok {
		t.Fatalf("task must go to redis when it is available")
	}

	task, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected task in redis queue")
	}
	if task.BookingID != "b-9" || task.EventType != "booking_confirmed" {
		t.Fatalf("unexpected task: %+v", task)
	}
	worker.processTask(ctx, &task)

	dead, err := mr.List("test:notifications:deadletter")
	if err != nil {
		t.Fatalf("deadletter list: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(dead))
	}
	var deadTask models.NotificationTask
	if err := json.Unmarshal([]byte(dead[0]), &deadTask); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if deadTask.ID != task.ID {
		t.Fatalf("dead letter id = %d, want %d", deadTask.ID, task.ID)
	}
}

func TestNotificationWorker_RedisDownFallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	worker := NewNotificationWorker(repository.NewMemoryStore(), &fakeNotifier{}, client, "", RetryPolicy{}, nil)
	if err := worker.Enqueue(context.Background(), "booking_created", testBooking("b-1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok := worker.tryLocalQueue(); !ok {
		t.Fatalf("expected task in local queue after redis failure")
	}
}

func TestNotificationWorker_StartDeliversAndPolls(t *testing.T) {
	store := repository.NewMemoryStore()
	notifier := &fakeNotifier{}
	logger := zerolog.New(io.Discard)
	worker := NewNotificationWorker(store, notifier, nil, "", RetryPolicy{}, &logger)
	worker.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One task through the channel, one only in the store.
	if err := worker.Enqueue(ctx, "booking_created", testBooking("b-1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	payload, _ := json.Marshal(testBooking("b-2"))
	orphan := models.NotificationTask{EventType: "booking_cancelled", BookingID: "b-2", Payload: string(payload)}
	if err := store.CreateNotificationTask(ctx, &orphan); err != nil {
		t.Fatalf("create: %v", err)
	}

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(notifier.calls()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := len(notifier.calls()); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
	pending, _ := store.GetPendingNotificationTasks(context.Background(), 10)
	if len(pending) != 0 {
		t.Fatalf("expected no pending tasks, got %d", len(pending))
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
	if d := policy.NextDelay(500); d != 5*time.Second {
		t.Fatalf("huge attempt expected capped 5s, got %s", d)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.RetryConfig{MaxRetries: 4, InitialDelay: time.Second, MaxDelay: time.Minute, Factor: 3})
	if p.MaxRetries != 4 || p.BackoffFactor != 3 || p.MaxDelay != time.Minute {
		t.Fatalf("unexpected policy: %+v", p)
	}
	if d := p.NextDelay(2); d != 3*time.Second {
		t.Fatalf("attempt2 expected 3s, got %s", d)
	}
}

// Helpers

type fakeNotifier struct {
	mu       sync.Mutex
	err      error
	recorded []string
}

func (f *fakeNotifier) Notify(_ context.Context, eventType string, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, eventType+":"+b.ID)
	return f.err
}

func (f *fakeNotifier) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.recorded...)
}

func testBooking(id string) *models.Booking {
	return &models.Booking{
		ID:            id,
		MeetingType:   "strategy",
		Name:          "Tester",
		Email:         "tester@example.com",
		ScheduledDate: "2030-01-07",
		ScheduledTime: "09:00",
		Timezone:      "Asia/Kolkata",
		Status:        models.StatusConfirmed,
	}
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM notification_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}
