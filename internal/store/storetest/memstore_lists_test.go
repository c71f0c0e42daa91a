package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"social-agent-console/internal/models"
	"social-agent-console/internal/store"
)

func TestListJobs_FiltersAndOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	base := time.Now()

	for i, account := range []string{"acct-1", "acct-2", "acct-1"} {
		at := base.Add(time.Duration(i) * time.Second)
		m.Now = func() time.Time { return at }
		_, err := m.Enqueue(ctx, store.EnqueueParams{
			AccountID: account,
			Payload:   models.SendDMPayload{RecipientID: "u-1", Message: "hi"},
		})
		require.NoError(t, err)
	}

	jobs, err := m.ListJobs(ctx, store.JobFilter{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt), "expected newest first")

	jobs, err = m.ListJobs(ctx, store.JobFilter{Status: models.JobCompleted})
	require.NoError(t, err)
	require.Empty(t, jobs)

	jobs, err = m.ListJobs(ctx, store.JobFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	jobs, err = m.ListJobs(ctx, store.JobFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestListReviews_BacklogReadsOldestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	base := time.Now()

	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		m.Now = func() time.Time { return at }
		_, _, err := m.InsertAttribution(ctx, store.InsertAttributionParams{
			Attribution: models.SalesAttribution{AccountID: "acct-1", OrderID: "ord"},
			NeedsReview: true,
		})
		require.NoError(t, err)
	}

	reviews, err := m.ListReviews(ctx, store.ReviewFilter{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, reviews, 3)
	require.True(t, reviews[0].CreatedAt.Before(reviews[2].CreatedAt), "expected oldest first")

	pending, err := m.ListReviews(ctx, store.ReviewFilter{Status: models.ReviewPending})
	require.NoError(t, err)
	require.Len(t, pending, 3)
}

func TestListAudit_TracksRecordHistory(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	m.AddAccount("acct-1")

	job, err := m.Enqueue(ctx, store.EnqueueParams{
		AccountID: "acct-1",
		Payload:   models.SendDMPayload{RecipientID: "u-1", Message: "hi"},
	})
	require.NoError(t, err)
	_, err = m.ClaimNext(ctx, "w-1", 1, nil)
	require.NoError(t, err)
	require.NoError(t, m.CompleteJob(ctx, job.ID))

	entries, err := m.ListAudit(ctx, store.AuditFilter{TableName: "outbound_jobs", RecordID: job.ID})
	require.NoError(t, err)

	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []string{"enqueued", "claimed", "completed"}, actions)
}
