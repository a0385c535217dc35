package database

import (
	"context"
	"testing"
	"time"

	"meetbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationQueueCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.NotificationTask{
		EventType: "booking_created",
		BookingID: "b-100",
		Payload:   `{"test": true}`,
	}

	// Create
	require.NoError(t, db.CreateNotificationTask(ctx, task))
	assert.NotZero(t, task.ID)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	// Get Pending
	tasks, err := db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "b-100", tasks[0].BookingID)

	// Update Status
	require.NoError(t, db.UpdateNotificationTaskStatus(ctx, tasks[0].ID, models.TaskStatusCompleted, "", nil))
	tasks, _ = db.GetPendingNotificationTasks(ctx, 10)
	assert.Len(t, tasks, 0)

	// Failed tasks
	errMsg := "some error"
	err = db.CreateNotificationTask(ctx, &models.NotificationTask{
		EventType: "test", BookingID: "b-101", Status: models.TaskStatusFailed, LastError: &errMsg,
	})
	require.NoError(t, err)
	failed, err := db.GetFailedNotificationTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "some error", *failed[0].LastError)

	// Retry logic
	task2 := &models.NotificationTask{EventType: "retry_test", BookingID: "b-102"}
	require.NoError(t, db.CreateNotificationTask(ctx, task2))

	nextRetry := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdateNotificationTaskStatus(ctx, task2.ID, models.TaskStatusRetry, "temporary error", &nextRetry))

	tasks, _ = db.GetPendingNotificationTasks(ctx, 10)
	for _, task := range tasks {
		assert.NotEqual(t, task2.ID, task.ID, "task with future retry should not be pending")
	}

	pastRetry := time.Now().Add(-time.Hour)
	require.NoError(t, db.UpdateNotificationTaskStatus(ctx, task2.ID, models.TaskStatusRetry, "temporary error", &pastRetry))
	tasks, _ = db.GetPendingNotificationTasks(ctx, 10)
	found := false
	for _, task := range tasks {
		if task.ID == task2.ID {
			found = true
			assert.Equal(t, 2, task.RetryCount)
		}
	}
	assert.True(t, found)
}
