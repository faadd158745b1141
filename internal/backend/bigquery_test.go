package backend

import (
	"context"
	"testing"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

type fakeBQJob struct {
	id     string
	status *bigquery.JobStatus
	cancel int
}

func (j *fakeBQJob) ID() string { return j.id }
func (j *fakeBQJob) Status(_ context.Context) (*bigquery.JobStatus, error) {
	return j.status, nil
}
func (j *fakeBQJob) Cancel(_ context.Context) error {
	j.cancel++
	return nil
}

type fakeBQQuery struct {
	job    bqJob
	runErr error
}

func (q fakeBQQuery) Run(_ context.Context) (bqJob, error) {
	return q.job, q.runErr
}

type fakeBQClient struct {
	job     *fakeBQJob
	runErr  error
	closed  bool
	jobByID func(id string) (bqJob, error)
}

func (c *fakeBQClient) Query(_ string) bqQuery {
	return fakeBQQuery{job: c.job, runErr: c.runErr}
}

func (c *fakeBQClient) JobFromID(_ context.Context, id string) (bqJob, error) {
	if c.jobByID != nil {
		return c.jobByID(id)
	}
	return c.job, nil
}

func (c *fakeBQClient) Close() error {
	c.closed = true
	return nil
}

func TestBigQueryBackendStartOK(t *testing.T) {
	job := &fakeBQJob{id: "job-1"}
	client := &fakeBQClient{job: job}
	b := &BigQueryBackend{newClient: func(_ context.Context, _ string) (bqClient, error) { return client, nil }}

	rp, err := b.Create(context.Background(), map[string]any{"project_id": "proj", "query": "select 1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	outcome, err := b.Start(context.Background(), rp, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if outcome.Kind != StartOK {
		t.Fatalf("Kind = %v, want StartOK (%s)", outcome.Kind, outcome.Reason)
	}
	var p bigqueryParams
	if err := bigqueryEnvelope.Unwrap(outcome.RunParameters, &p); err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if p.JobID != "job-1" {
		t.Fatalf("JobID = %q, want job-1", p.JobID)
	}
	if !client.closed {
		t.Fatal("client should be closed after Start")
	}
}

func TestBigQueryBackendStartRecoverableOnRateLimit(t *testing.T) {
	client := &fakeBQClient{runErr: &googleapi.Error{Code: 429, Message: "rate limited"}}
	b := &BigQueryBackend{newClient: func(_ context.Context, _ string) (bqClient, error) { return client, nil }}

	rp, _ := bigqueryEnvelope.Wrap(bigqueryParams{ProjectID: "proj", Query: "select 1"})
	outcome, err := b.Start(context.Background(), RunParameters(rp), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if outcome.Kind != StartRecoverable {
		t.Fatalf("Kind = %v, want StartRecoverable", outcome.Kind)
	}
}

func TestBigQueryBackendStartFatalOnBadQuery(t *testing.T) {
	client := &fakeBQClient{runErr: &googleapi.Error{Code: 400, Message: "bad query"}}
	b := &BigQueryBackend{newClient: func(_ context.Context, _ string) (bqClient, error) { return client, nil }}

	rp, _ := bigqueryEnvelope.Wrap(bigqueryParams{ProjectID: "proj", Query: "not sql"})
	outcome, err := b.Start(context.Background(), RunParameters(rp), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if outcome.Kind != StartFatal {
		t.Fatalf("Kind = %v, want StartFatal", outcome.Kind)
	}
}

func TestBigQueryBackendUpdateSucceeded(t *testing.T) {
	job := &fakeBQJob{id: "job-1", status: &bigquery.JobStatus{State: bigquery.Done}}
	client := &fakeBQClient{job: job}
	b := &BigQueryBackend{newClient: func(_ context.Context, _ string) (bqClient, error) { return client, nil }}

	rp, _ := bigqueryEnvelope.Wrap(bigqueryParams{ProjectID: "proj", Query: "select 1", JobID: "job-1"})
	outcome, err := b.Update(context.Background(), RunParameters(rp), nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if outcome.Kind != UpdateSucceeded {
		t.Fatalf("Kind = %v, want UpdateSucceeded", outcome.Kind)
	}
}

func TestBigQueryBackendUpdateStillRunning(t *testing.T) {
	job := &fakeBQJob{id: "job-1", status: &bigquery.JobStatus{State: bigquery.Running}}
	client := &fakeBQClient{job: job}
	b := &BigQueryBackend{newClient: func(_ context.Context, _ string) (bqClient, error) { return client, nil }}

	rp, _ := bigqueryEnvelope.Wrap(bigqueryParams{ProjectID: "proj", Query: "select 1", JobID: "job-1"})
	outcome, err := b.Update(context.Background(), RunParameters(rp), nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if outcome.Kind != UpdateStillRunning {
		t.Fatalf("Kind = %v, want UpdateStillRunning", outcome.Kind)
	}
}

func TestBigQueryBackendKillCancelsJob(t *testing.T) {
	job := &fakeBQJob{id: "job-1"}
	client := &fakeBQClient{job: job}
	b := &BigQueryBackend{newClient: func(_ context.Context, _ string) (bqClient, error) { return client, nil }}

	rp, _ := bigqueryEnvelope.Wrap(bigqueryParams{ProjectID: "proj", Query: "select 1", JobID: "job-1"})
	if err := b.Kill(context.Background(), RunParameters(rp), nil); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if job.cancel != 1 {
		t.Fatalf("cancel called %d times, want 1", job.cancel)
	}
}

func TestBigQueryBackendKillOnNeverStartedJobIsNoop(t *testing.T) {
	client := &fakeBQClient{}
	b := &BigQueryBackend{newClient: func(_ context.Context, _ string) (bqClient, error) { return client, nil }}

	rp, _ := bigqueryEnvelope.Wrap(bigqueryParams{ProjectID: "proj", Query: "select 1"})
	if err := b.Kill(context.Background(), RunParameters(rp), nil); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if client.closed {
		t.Fatal("client should never be dialed for a job that never started")
	}
}
