package jobs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeJob(t *testing.T) {
	job := stamp(Job{Kind: KindApprovalScore, PatientID: "p1", RequestedBy: "doc-1"})
	payload, err := encodeJob(job)
	require.NoError(t, err)

	got, err := decodeJob(payload)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.PatientID, got.PatientID)
	assert.True(t, job.EnqueuedAt.Equal(got.EnqueuedAt))
}

func TestDecodeJob_Malformed(t *testing.T) {
	_, err := decodeJob("not json")
	assert.Error(t, err)

	_, err = decodeJob(`{"id":"x"}`)
	assert.Error(t, err, "a job without kind is rejected")
}

// TestRedisQueue_RoundTrip needs a live server; set REDIS_TEST_URL to run it.
func TestRedisQueue_RoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	key := "portal:jobs:test:" + time.Now().Format("150405.000000")
	defer client.Del(ctx, key)

	q := NewRedisQueue(client, key, Options{Workers: 1}, zerolog.Nop())
	got := make(chan Job, 1)
	q.Handle(KindApprovalScore, func(ctx context.Context, job Job) error {
		got <- job
		return nil
	})
	q.Start()
	defer q.Stop(ctx)

	require.NoError(t, q.Dispatch(ctx, Job{Kind: KindApprovalScore, PatientID: "p42"}))
	select {
	case job := <-got:
		assert.Equal(t, "p42", job.PatientID)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not consumed")
	}
}
