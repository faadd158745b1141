package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"cirrusflow/internal/envelope"
	"cirrusflow/internal/host"
)

// bigqueryParams is the run_parameters payload for the BigQuery backend. A
// project/query pair seeds an asynchronous job that the backend plugin
// interface starts, polls, and can cancel, the same submit-then-poll shape
// as the PBS/LSF backends.
type bigqueryParams struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query"`
	JobID     string `json:"job_id,omitempty"`
	Attempt   int    `json:"attempt"`
}

var bigqueryEnvelope = envelope.NewChain(1)

// BigQueryBackend runs a query as a BigQuery job. The Host parameter on
// every method is unused and only present to satisfy the Backend interface:
// BigQuery is a managed service, not something a Host shells out to.
type BigQueryBackend struct {
	// newClient is overridable in tests.
	newClient func(ctx context.Context, projectID string) (bqClient, error)
}

// bqClient is the subset of *bigquery.Client this backend needs, so tests
// can substitute a fake.
type bqClient interface {
	Query(q string) bqQuery
	JobFromID(ctx context.Context, id string) (bqJob, error)
	Close() error
}

type bqQuery interface {
	Run(ctx context.Context) (bqJob, error)
}

type bqJob interface {
	ID() string
	Status(ctx context.Context) (*bigquery.JobStatus, error)
	Cancel(ctx context.Context) error
}

func NewBigQuery() *BigQueryBackend {
	return &BigQueryBackend{newClient: defaultBQClient}
}

func (b *BigQueryBackend) Name() string { return "bigquery" }

func (b *BigQueryBackend) Create(_ context.Context, config map[string]any) (RunParameters, error) {
	projectID, _ := config["project_id"].(string)
	query, _ := config["query"].(string)
	if projectID == "" {
		return nil, fmt.Errorf("bigquery backend: config.project_id is required")
	}
	if query == "" {
		return nil, fmt.Errorf("bigquery backend: config.query is required")
	}
	data, err := bigqueryEnvelope.Wrap(bigqueryParams{ProjectID: projectID, Query: query})
	return RunParameters(data), err
}

func (b *BigQueryBackend) Start(ctx context.Context, rp RunParameters, _ host.Host) (StartOutcome, error) {
	var p bigqueryParams
	if err := bigqueryEnvelope.Unwrap(rp, &p); err != nil {
		return StartOutcome{Kind: StartFatal, Reason: err.Error()}, nil
	}

	client, err := b.newClient(ctx, p.ProjectID)
	if err != nil {
		return StartOutcome{Kind: StartRecoverable, Reason: fmt.Sprintf("create bigquery client: %v", err)}, nil
	}
	defer client.Close()

	job, err := client.Query(p.Query).Run(ctx)
	if err != nil {
		if isRetryableBQError(err) {
			return StartOutcome{Kind: StartRecoverable, Reason: err.Error()}, nil
		}
		return StartOutcome{Kind: StartFatal, Reason: err.Error()}, nil
	}
	p.JobID = job.ID()

	data, err := bigqueryEnvelope.Wrap(p)
	if err != nil {
		return StartOutcome{Kind: StartFatal, Reason: err.Error()}, nil
	}
	return StartOutcome{Kind: StartOK, RunParameters: RunParameters(data)}, nil
}

func (b *BigQueryBackend) Update(ctx context.Context, rp RunParameters, _ host.Host) (UpdateOutcome, error) {
	var p bigqueryParams
	if err := bigqueryEnvelope.Unwrap(rp, &p); err != nil {
		return UpdateOutcome{Kind: UpdateFailed, Reason: err.Error()}, nil
	}

	client, err := b.newClient(ctx, p.ProjectID)
	if err != nil {
		return UpdateOutcome{Kind: UpdateUnknown, Reason: err.Error(), RunParameters: rp}, nil
	}
	defer client.Close()

	job, err := client.JobFromID(ctx, p.JobID)
	if err != nil {
		return UpdateOutcome{Kind: UpdateUnknown, Reason: err.Error(), RunParameters: rp}, nil
	}
	status, err := job.Status(ctx)
	if err != nil {
		return UpdateOutcome{Kind: UpdateUnknown, Reason: err.Error(), RunParameters: rp}, nil
	}
	if !status.Done() {
		return UpdateOutcome{Kind: UpdateStillRunning, RunParameters: rp}, nil
	}
	if status.Err() != nil {
		return UpdateOutcome{Kind: UpdateFailed, Reason: status.Err().Error(), RunParameters: rp}, nil
	}
	return UpdateOutcome{Kind: UpdateSucceeded, RunParameters: rp}, nil
}

func (b *BigQueryBackend) Kill(ctx context.Context, rp RunParameters, _ host.Host) error {
	var p bigqueryParams
	if err := bigqueryEnvelope.Unwrap(rp, &p); err != nil {
		return err
	}
	if p.JobID == "" {
		return nil
	}
	client, err := b.newClient(ctx, p.ProjectID)
	if err != nil {
		return err
	}
	defer client.Close()
	job, err := client.JobFromID(ctx, p.JobID)
	if err != nil {
		return nil // already gone: idempotent
	}
	return job.Cancel(ctx)
}

func (b *BigQueryBackend) Query(ctx context.Context, rp RunParameters, _ host.Host, item string) ([]byte, error) {
	var p bigqueryParams
	if err := bigqueryEnvelope.Unwrap(rp, &p); err != nil {
		return nil, err
	}
	switch item {
	case "log":
		return []byte(p.Query), nil
	case "stats":
		client, err := b.newClient(ctx, p.ProjectID)
		if err != nil {
			return nil, err
		}
		defer client.Close()
		job, err := client.JobFromID(ctx, p.JobID)
		if err != nil {
			return nil, err
		}
		status, err := job.Status(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(status.Statistics)
	default:
		return nil, &ErrUnknownQuery{Backend: b.Name(), Item: item}
	}
}

func (b *BigQueryBackend) AdditionalQueries(RunParameters) []string { return []string{"stats"} }

func isRetryableBQError(err error) bool {
	var apiErr *googleapi.Error
	if ok := asGoogleAPIError(err, &apiErr); ok {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return false
}

func asGoogleAPIError(err error, target **googleapi.Error) bool {
	apiErr, ok := err.(*googleapi.Error)
	if ok {
		*target = apiErr
	}
	return ok
}

// defaultBQClient and its supporting adapters wrap the real
// cloud.google.com/go/bigquery client to satisfy the bqClient/bqQuery/bqJob
// seams above.
func defaultBQClient(ctx context.Context, projectID string) (bqClient, error) {
	c, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return realBQClient{c}, nil
}

type realBQClient struct{ c *bigquery.Client }

func (r realBQClient) Query(q string) bqQuery { return realBQQuery{r.c.Query(q)} }
func (r realBQClient) JobFromID(ctx context.Context, id string) (bqJob, error) {
	j, err := r.c.JobFromID(ctx, id)
	if err != nil {
		return nil, err
	}
	return realBQJob{j}, nil
}
func (r realBQClient) Close() error { return r.c.Close() }

type realBQQuery struct{ q *bigquery.Query }

func (r realBQQuery) Run(ctx context.Context) (bqJob, error) {
	j, err := r.q.Run(ctx)
	if err != nil {
		return nil, err
	}
	return realBQJob{j}, nil
}

type realBQJob struct{ j *bigquery.Job }

func (r realBQJob) ID() string { return r.j.ID() }
func (r realBQJob) Status(ctx context.Context) (*bigquery.JobStatus, error) {
	return r.j.Status(ctx)
}
func (r realBQJob) Cancel(ctx context.Context) error { return r.j.Cancel(ctx) }
