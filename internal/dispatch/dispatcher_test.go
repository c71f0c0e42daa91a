package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"social-agent-console/internal/credentials"
	"social-agent-console/internal/models"
	"social-agent-console/internal/provider"
	"social-agent-console/internal/store"
	"social-agent-console/internal/store/storetest"
)

// scriptedClient returns queued responses in order, then succeeds.
type scriptedClient struct {
	queue []provider.Response
	errs  []error
	calls int
}

func (c *scriptedClient) next() (provider.Response, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return provider.Response{}, c.errs[i]
	}
	if i < len(c.queue) {
		return c.queue[i], nil
	}
	return provider.Response{StatusCode: 200, ExternalID: "ext-ok"}, nil
}

func (c *scriptedClient) ReplyComment(context.Context, credentials.Credential, models.ReplyCommentPayload) (provider.Response, error) {
	return c.next()
}
func (c *scriptedClient) ReplyDM(context.Context, credentials.Credential, models.ReplyDMPayload) (provider.Response, error) {
	return c.next()
}
func (c *scriptedClient) SendDM(context.Context, credentials.Credential, models.SendDMPayload) (provider.Response, error) {
	return c.next()
}
func (c *scriptedClient) PublishPost(context.Context, credentials.Credential, models.PublishPostPayload) (provider.Response, error) {
	return c.next()
}
func (c *scriptedClient) RepostUGC(context.Context, credentials.Credential, models.RepostUGCPayload) (provider.Response, error) {
	return c.next()
}

// memCooldowns records opened windows in memory.
type memCooldowns struct {
	windows map[string]time.Duration
}

func newMemCooldowns() *memCooldowns {
	return &memCooldowns{windows: map[string]time.Duration{}}
}

func (c *memCooldowns) Active(context.Context) ([]string, error) {
	var out []string
	for id := range c.windows {
		out = append(out, id)
	}
	return out, nil
}

func (c *memCooldowns) Open(_ context.Context, accountID string, d time.Duration) error {
	c.windows[accountID] = d
	return nil
}

func newTestDispatcher(t *testing.T, st *storetest.MemStore, client provider.Client, cd Cooldowns) *Dispatcher {
	t.Helper()
	creds := &credentials.StaticResolver{Tokens: map[string]string{"acct-1": "tok-1"}}
	return New(Options{WorkerID: "w-test", BatchSize: 10},
		st, cd, creds, client, DefaultRetryPolicy(), zap.NewNop())
}

func enqueue(t *testing.T, st *storetest.MemStore, payload models.JobPayload) models.Job {
	t.Helper()
	job, err := st.Enqueue(context.Background(), store.EnqueueParams{
		AccountID: "acct-1",
		Payload:   payload,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

func TestDispatcher_CompletesSuccessfulJob(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewMemStore()
	st.AddAccount("acct-1")
	client := &scriptedClient{queue: []provider.Response{{StatusCode: 200, ExternalID: "c-1"}}}
	d := newTestDispatcher(t, st, client, newMemCooldowns())

	job := enqueue(t, st, models.ReplyCommentPayload{CommentID: "cm-1", Message: "thanks!"})
	d.cycle(ctx)

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != models.JobCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.AttemptCount != 0 {
		t.Fatalf("success should not bump attempt_count, got %d", got.AttemptCount)
	}
	if client.calls != 1 {
		t.Fatalf("expected one provider call, got %d", client.calls)
	}
}

func TestDispatcher_PolicyViolationDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewMemStore()
	st.AddAccount("acct-1")
	client := &scriptedClient{queue: []provider.Response{
		{StatusCode: 400, Code: 368, Message: "content blocked"},
	}}
	d := newTestDispatcher(t, st, client, newMemCooldowns())

	job := enqueue(t, st, models.ReplyCommentPayload{CommentID: "cm-1", Message: "spam"})
	d.cycle(ctx)

	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != models.JobDeadLetter {
		t.Fatalf("expected dlq, got %s", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("expected attempt_count 1, got %d", got.AttemptCount)
	}
	if got.ErrorCategory == nil || *got.ErrorCategory != models.CategoryPermanent {
		t.Fatalf("expected permanent category, got %v", got.ErrorCategory)
	}
	if len(st.Alerts) != 1 || st.Alerts[0].Type != models.AlertContentViolation {
		t.Fatalf("expected one content_violation alert, got %+v", st.Alerts)
	}
	if st.Alerts[0].JobID == nil || *st.Alerts[0].JobID != job.ID {
		t.Fatalf("alert should reference the job")
	}
	// The account stays connected; content rejection is not a credential
	// problem.
	if !st.Accounts["acct-1"].Connected {
		t.Fatalf("permanent failure must not disconnect the account")
	}

	found := false
	for _, e := range st.Audit {
		if e.TableName == "outbound_jobs" && e.RecordID == job.ID && e.Action == "dead_lettered" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a dead_lettered audit entry")
	}
}

func TestDispatcher_RateLimitHonorsRetryAfterAndCoolsDown(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewMemStore()
	st.AddAccount("acct-1")
	base := time.Now()
	st.Now = func() time.Time { return base }

	hint := 5 * time.Second
	client := &scriptedClient{queue: []provider.Response{
		{StatusCode: 429, Code: 4, Message: "throttled", RetryAfter: &hint},
		{StatusCode: 200, ExternalID: "d-1"},
	}}
	cd := newMemCooldowns()
	d := newTestDispatcher(t, st, client, cd)

	job := enqueue(t, st, models.SendDMPayload{RecipientID: "u-1", Message: "hello"})
	d.cycle(ctx)

	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != models.JobPending {
		t.Fatalf("expected pending after throttle, got %s", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("expected attempt_count 1, got %d", got.AttemptCount)
	}
	if want := base.Add(hint); !got.ScheduledFor.Equal(want) {
		t.Fatalf("expected scheduled_for %s, got %s", want, got.ScheduledFor)
	}
	if cd.windows["acct-1"] != hint {
		t.Fatalf("expected %s cooldown for acct-1, got %s", hint, cd.windows["acct-1"])
	}

	// Cooling-down account is excluded even once the job is due again.
	st.Now = func() time.Time { return base.Add(hint + time.Second) }
	d.cycle(ctx)
	got, _ = st.GetJob(ctx, job.ID)
	if got.Status != models.JobPending {
		t.Fatalf("cooled-down account must not be claimed, got %s", got.Status)
	}

	// Window expiry: the retry runs and succeeds.
	delete(cd.windows, "acct-1")
	d.cycle(ctx)
	got, _ = st.GetJob(ctx, job.ID)
	if got.Status != models.JobCompleted {
		t.Fatalf("expected completed after retry, got %s", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("attempt_count must not change on success, got %d", got.AttemptCount)
	}
}

func TestDispatcher_AuthFailureDisconnectsAccountAtomically(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewMemStore()
	st.AddAccount("acct-1")
	client := &scriptedClient{queue: []provider.Response{
		{StatusCode: 400, Code: 190, Message: "token expired"},
	}}
	d := newTestDispatcher(t, st, client, newMemCooldowns())

	job := enqueue(t, st, models.ReplyDMPayload{ThreadID: "th-1", Message: "hi"})
	d.cycle(ctx)

	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != models.JobDeadLetter {
		t.Fatalf("expected dlq, got %s", got.Status)
	}
	if st.Accounts["acct-1"].Connected {
		t.Fatalf("auth failure must disconnect the account")
	}
	if len(st.Alerts) != 1 || st.Alerts[0].Type != models.AlertAuthFailure {
		t.Fatalf("expected one auth_failure alert, got %+v", st.Alerts)
	}
}

func TestDispatcher_DeadLetterSideEffectsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewMemStore()
	st.AddAccount("acct-1")
	client := &scriptedClient{queue: []provider.Response{
		{StatusCode: 400, Code: 190, Message: "token expired"},
	}}
	d := newTestDispatcher(t, st, client, newMemCooldowns())
	job := enqueue(t, st, models.ReplyDMPayload{ThreadID: "th-1", Message: "hi"})

	// Simulated crash before the dead-letter transaction commits: nothing
	// may be visible.
	st.FailPoint = func(op string) error {
		if op == "dead_letter" {
			return errors.New("connection reset")
		}
		return nil
	}
	d.cycle(ctx)

	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != models.JobProcessing {
		t.Fatalf("failed transaction must leave the claim in place, got %s", got.Status)
	}
	if !st.Accounts["acct-1"].Connected {
		t.Fatalf("failed transaction must not disconnect the account")
	}
	if len(st.Alerts) != 0 {
		t.Fatalf("failed transaction must not raise alerts, got %+v", st.Alerts)
	}

	// After the claim times out the reaper recovers the job, and the next
	// pass applies every side effect together.
	st.FailPoint = nil
	client.queue = append(client.queue, provider.Response{StatusCode: 400, Code: 190, Message: "token expired"})
	if _, err := st.ReapExpiredClaims(ctx, 0); err != nil {
		t.Fatalf("reap: %v", err)
	}
	d.cycle(ctx)

	got, _ = st.GetJob(ctx, job.ID)
	if got.Status != models.JobDeadLetter {
		t.Fatalf("expected dlq after recovery, got %s", got.Status)
	}
	if st.Accounts["acct-1"].Connected {
		t.Fatalf("expected account disconnected after recovery")
	}
	if len(st.Alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(st.Alerts))
	}
}

func TestDispatcher_TransientExhaustsRetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewMemStore()
	st.AddAccount("acct-1")
	base := time.Now()
	now := base
	st.Now = func() time.Time { return now }

	client := &scriptedClient{queue: []provider.Response{
		{StatusCode: 503, Message: "upstream down"},
		{StatusCode: 503, Message: "upstream down"},
		{StatusCode: 503, Message: "upstream down"},
		{StatusCode: 503, Message: "upstream down"},
	}}
	d := newTestDispatcher(t, st, client, newMemCooldowns())
	job := enqueue(t, st, models.RepostUGCPayload{SourceMediaID: "m-1"})

	// Attempts 1..3 fail and reschedule; advancing the clock past each
	// backoff makes the job claimable again.
	for attempt := 1; attempt <= 3; attempt++ {
		d.cycle(ctx)
		got, _ := st.GetJob(ctx, job.ID)
		if got.Status != models.JobPending {
			t.Fatalf("attempt %d: expected pending, got %s", attempt, got.Status)
		}
		if got.AttemptCount != attempt {
			t.Fatalf("attempt %d: expected attempt_count %d, got %d", attempt, attempt, got.AttemptCount)
		}
		now = got.ScheduledFor.Add(time.Millisecond)
	}

	// The fourth failure exceeds the transient ceiling of three retries.
	d.cycle(ctx)
	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != models.JobDeadLetter {
		t.Fatalf("expected dlq after retries exhausted, got %s", got.Status)
	}
	if got.AttemptCount != 4 {
		t.Fatalf("expected attempt_count 4, got %d", got.AttemptCount)
	}
	if client.calls != 4 {
		t.Fatalf("expected 4 provider calls, got %d", client.calls)
	}
	if len(st.Alerts) != 1 || st.Alerts[0].Type != models.AlertSyncFailure {
		t.Fatalf("expected one sync_failure alert, got %+v", st.Alerts)
	}
}

func TestDispatcher_TransportErrorRetriesAsTransient(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewMemStore()
	st.AddAccount("acct-1")
	client := &scriptedClient{errs: []error{errors.New("dial tcp: connection refused")}}
	d := newTestDispatcher(t, st, client, newMemCooldowns())

	job := enqueue(t, st, models.ReplyCommentPayload{CommentID: "cm-1", Message: "hi"})
	d.cycle(ctx)

	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != models.JobPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if got.ErrorCategory == nil || *got.ErrorCategory != models.CategoryTransient {
		t.Fatalf("expected transient category, got %v", got.ErrorCategory)
	}
}

func TestDispatcher_UnknownCredentialDeadLettersAsAuthFailure(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewMemStore()
	st.AddAccount("acct-2")
	client := &scriptedClient{}
	d := newTestDispatcher(t, st, client, newMemCooldowns())

	job, err := st.Enqueue(ctx, store.EnqueueParams{
		AccountID: "acct-2", // not in the resolver's token map
		Payload:   models.SendDMPayload{RecipientID: "u-1", Message: "hi"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.cycle(ctx)

	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != models.JobDeadLetter {
		t.Fatalf("expected dlq, got %s", got.Status)
	}
	if client.calls != 0 {
		t.Fatalf("provider must not be called without a credential")
	}
	if st.Accounts["acct-2"].Connected {
		t.Fatalf("dead credential must disconnect the account")
	}
}

func TestDispatcher_HighPriorityClaimedFirst(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewMemStore()
	st.AddAccount("acct-1")
	base := time.Now()
	st.Now = func() time.Time { return base }

	normal, err := st.Enqueue(ctx, store.EnqueueParams{
		AccountID: "acct-1",
		Payload:   models.SendDMPayload{RecipientID: "u-1", Message: "later"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	st.Now = func() time.Time { return base.Add(time.Second) }
	urgent, err := st.Enqueue(ctx, store.EnqueueParams{
		AccountID: "acct-1",
		Payload:   models.ReplyDMPayload{ThreadID: "th-1", Message: "now"},
		Priority:  models.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// One job per account per claim: the high-priority job goes first even
	// though it arrived second.
	st.Now = func() time.Time { return base.Add(2 * time.Second) }
	claimed, err := st.ClaimNext(ctx, "w-test", 10, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected a single claim for the account, got %d", len(claimed))
	}
	if claimed[0].ID != urgent.ID {
		t.Fatalf("expected high-priority job %s first, got %s", urgent.ID, claimed[0].ID)
	}

	if err := st.CompleteJob(ctx, urgent.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	claimed, err = st.ClaimNext(ctx, "w-test", 10, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != normal.ID {
		t.Fatalf("expected normal job %s second, got %+v", normal.ID, claimed)
	}
}

func TestDispatcher_PublishPostLifecycle(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewMemStore()
	st.AddAccount("acct-1")
	client := &scriptedClient{queue: []provider.Response{{StatusCode: 200, ExternalID: "media-9"}}}
	d := newTestDispatcher(t, st, client, newMemCooldowns())

	post, err := st.CreatePost(ctx, store.CreatePostParams{AccountID: "acct-1", Caption: "launch"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	approved, err := st.ApprovePost(ctx, post.ID)
	if err != nil {
		t.Fatalf("approve post: %v", err)
	}
	if approved.Status != models.PostApproved || approved.JobID == nil {
		t.Fatalf("expected approved post with job, got %+v", approved)
	}

	d.cycle(ctx)

	gotPost, _ := st.GetPost(ctx, post.ID)
	if gotPost.Status != models.PostPublished {
		t.Fatalf("expected published, got %s", gotPost.Status)
	}
	gotJob, _ := st.GetJob(ctx, *approved.JobID)
	if gotJob.Status != models.JobCompleted {
		t.Fatalf("expected completed publish job, got %s", gotJob.Status)
	}
}

func TestDispatcher_FailedPublishMarksPostFailed(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewMemStore()
	st.AddAccount("acct-1")
	client := &scriptedClient{queue: []provider.Response{
		{StatusCode: 400, Code: 100, Message: "invalid parameter"},
	}}
	d := newTestDispatcher(t, st, client, newMemCooldowns())

	post, _ := st.CreatePost(ctx, store.CreatePostParams{AccountID: "acct-1", Caption: "launch"})
	approved, err := st.ApprovePost(ctx, post.ID)
	if err != nil {
		t.Fatalf("approve post: %v", err)
	}

	d.cycle(ctx)

	gotPost, _ := st.GetPost(ctx, post.ID)
	if gotPost.Status != models.PostFailed {
		t.Fatalf("expected failed post, got %s", gotPost.Status)
	}
	gotJob, _ := st.GetJob(ctx, *approved.JobID)
	if gotJob.Status != models.JobDeadLetter {
		t.Fatalf("expected dlq publish job, got %s", gotJob.Status)
	}
}
