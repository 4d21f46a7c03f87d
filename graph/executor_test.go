package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   []Request
	handler func(Request) (Page, error)
}

func (f *fakeClient) Query(_ context.Context, req Request) (Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.handler != nil {
		return f.handler(req)
	}
	return Page{}, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func azureError(status int) error {
	return &azcore.ResponseError{StatusCode: status, ErrorCode: "TestError"}
}

func subscriptionIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("sub-%04d", i)
	}
	return ids
}

// fastRetry keeps retry tests quick and deterministic.
func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestExecute_SplitsIntoBatches(t *testing.T) {
	client := &fakeClient{
		handler: func(req Request) (Page, error) {
			rows := make([]Row, len(req.SubscriptionIDs))
			for i, id := range req.SubscriptionIDs {
				rows[i] = Row{"id": "resource-" + id}
			}
			return Page{Rows: rows}, nil
		},
	}
	e := NewExecutor(client, zerolog.Nop())

	result := e.Execute(context.Background(), "Resources", subscriptionIDs(1200))

	require.Equal(t, 2, result.BatchesTotal)
	require.Equal(t, 2, client.callCount())
	assert.Empty(t, result.BatchesFailed)
	assert.False(t, result.Cancelled)

	sizes := []int{len(client.calls[0].SubscriptionIDs), len(client.calls[1].SubscriptionIDs)}
	assert.ElementsMatch(t, []int{1000, 200}, sizes)

	require.Len(t, result.Rows, 1200)
	seen := make(map[string]bool, len(result.Rows))
	for _, row := range result.Rows {
		id := row.String("id")
		assert.False(t, seen[id], "duplicate row %s", id)
		seen[id] = true
	}
}

func TestExecute_NoSubscriptions(t *testing.T) {
	client := &fakeClient{}
	e := NewExecutor(client, zerolog.Nop())

	result := e.Execute(context.Background(), "Resources", nil)

	assert.Zero(t, result.BatchesTotal)
	assert.Empty(t, result.Rows)
	assert.Zero(t, client.callCount())
}

func TestExecute_FollowsSkipTokens(t *testing.T) {
	client := &fakeClient{
		handler: func(req Request) (Page, error) {
			switch req.SkipToken {
			case "":
				return Page{Rows: []Row{{"id": "r1"}, {"id": "r2"}}, SkipToken: "page-2"}, nil
			case "page-2":
				return Page{Rows: []Row{{"id": "r3"}}}, nil
			default:
				return Page{}, fmt.Errorf("unexpected skip token %q", req.SkipToken)
			}
		},
	}
	e := NewExecutor(client, zerolog.Nop())

	result := e.Execute(context.Background(), "Resources", []string{"sub-1"})

	require.Empty(t, result.BatchesFailed)
	assert.Len(t, result.Rows, 3)
	require.Equal(t, 2, client.callCount())
	assert.Equal(t, "page-2", client.calls[1].SkipToken)
}

func TestExecute_PartialBatchFailure(t *testing.T) {
	client := &fakeClient{
		handler: func(req Request) (Page, error) {
			for _, id := range req.SubscriptionIDs {
				if id == "sub-3" {
					return Page{}, azureError(403)
				}
			}
			return Page{Rows: []Row{{"id": req.SubscriptionIDs[0]}, {"id": req.SubscriptionIDs[1]}}}, nil
		},
	}
	e := NewExecutor(client, zerolog.Nop(), WithBatchSize(2))

	result := e.Execute(context.Background(), "Resources", []string{"sub-1", "sub-2", "sub-3", "sub-4"})

	assert.Equal(t, 2, result.BatchesTotal)
	assert.Len(t, result.Rows, 2)
	require.Len(t, result.BatchesFailed, 1)
	assert.Equal(t, []string{"sub-3", "sub-4"}, result.BatchesFailed[0].SubscriptionIDs)

	var respErr *azcore.ResponseError
	require.ErrorAs(t, result.BatchesFailed[0].Err, &respErr)
	assert.Equal(t, 403, respErr.StatusCode)
}

func TestExecute_RetriesThrottling(t *testing.T) {
	var attempts atomic.Int32
	client := &fakeClient{
		handler: func(Request) (Page, error) {
			if attempts.Add(1) <= 2 {
				return Page{}, azureError(429)
			}
			return Page{Rows: []Row{{"id": "r1"}}}, nil
		},
	}
	e := NewExecutor(client, zerolog.Nop(), WithRetryPolicy(fastRetry(4)))

	result := e.Execute(context.Background(), "Resources", []string{"sub-1"})

	assert.Empty(t, result.BatchesFailed)
	assert.Len(t, result.Rows, 1)
	assert.Equal(t, 3, client.callCount())
}

func TestExecute_ExhaustsRetries(t *testing.T) {
	client := &fakeClient{
		handler: func(Request) (Page, error) {
			return Page{}, azureError(503)
		},
	}
	e := NewExecutor(client, zerolog.Nop(), WithRetryPolicy(fastRetry(3)))

	result := e.Execute(context.Background(), "Resources", []string{"sub-1"})

	require.Len(t, result.BatchesFailed, 1)
	assert.Equal(t, 3, client.callCount())
}

func TestExecute_PermanentErrorNotRetried(t *testing.T) {
	client := &fakeClient{
		handler: func(Request) (Page, error) {
			return Page{}, azureError(400)
		},
	}
	e := NewExecutor(client, zerolog.Nop(), WithRetryPolicy(fastRetry(4)))

	result := e.Execute(context.Background(), "Resources", []string{"sub-1"})

	require.Len(t, result.BatchesFailed, 1)
	assert.Equal(t, 1, client.callCount())
}

func TestExecute_KeepsCompletedPagesOnFailure(t *testing.T) {
	client := &fakeClient{
		handler: func(req Request) (Page, error) {
			if req.SkipToken == "" {
				return Page{Rows: []Row{{"id": "r1"}, {"id": "r2"}}, SkipToken: "page-2"}, nil
			}
			return Page{}, azureError(403)
		},
	}
	e := NewExecutor(client, zerolog.Nop())

	result := e.Execute(context.Background(), "Resources", []string{"sub-1"})

	assert.Len(t, result.Rows, 2)
	require.Len(t, result.BatchesFailed, 1)
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{}
	e := NewExecutor(client, zerolog.Nop(), WithBatchSize(1))

	result := e.Execute(ctx, "Resources", []string{"sub-1", "sub-2"})

	assert.True(t, result.Cancelled)
	assert.Equal(t, 2, result.BatchesTotal)
	assert.Empty(t, result.Rows)
	assert.Zero(t, client.callCount())
}

func TestExecute_CancelledMidwayKeepsPartialRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{
		handler: func(req Request) (Page, error) {
			cancel()
			return Page{Rows: []Row{{"id": req.SubscriptionIDs[0]}}}, nil
		},
	}
	e := NewExecutor(client, zerolog.Nop(), WithBatchSize(1), WithConcurrency(1))

	result := e.Execute(ctx, "Resources", []string{"sub-1", "sub-2"})

	assert.True(t, result.Cancelled)
	assert.Len(t, result.Rows, 1)
	assert.Equal(t, 1, client.callCount())
	assert.Empty(t, result.BatchesFailed)
}

func TestExecute_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	client := &fakeClient{
		handler: func(Request) (Page, error) {
			current := inFlight.Add(1)
			for {
				highest := peak.Load()
				if current <= highest || peak.CompareAndSwap(highest, current) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return Page{}, nil
		},
	}
	e := NewExecutor(client, zerolog.Nop(), WithBatchSize(1), WithConcurrency(2))

	result := e.Execute(context.Background(), "Resources", subscriptionIDs(12))

	assert.Equal(t, 12, result.BatchesTotal)
	assert.Empty(t, result.BatchesFailed)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecute_UnwrapsToContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{
		handler: func(Request) (Page, error) {
			cancel()
			return Page{}, azureError(503)
		},
	}
	e := NewExecutor(client, zerolog.Nop(), WithRetryPolicy(fastRetry(4)))

	result := e.Execute(ctx, "Resources", []string{"sub-1"})

	require.Len(t, result.BatchesFailed, 1)
	assert.True(t, result.Cancelled)
	assert.True(t, errors.Is(result.BatchesFailed[0].Err, context.Canceled))
}
