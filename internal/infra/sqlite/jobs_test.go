package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/speaknet/speakd/internal/domain"
)

func insertTestJob(t *testing.T, db *DB, id string) {
	t.Helper()
	j := &domain.TTSJob{
		ID:      id,
		AgentID: "agent-1",
		Status:  domain.JobQueued,
		Request: domain.JobRequest{
			Text:         "hello world",
			TextLength:   11,
			VoiceID:      "mock-neutral",
			ModelID:      "mock-model",
			OutputFormat: "wav_mock",
		},
		Usage: domain.JobUsage{
			EstimatedChars: 11,
			ReservedChars:  11,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := db.InsertJob(context.Background(), j); err != nil {
		t.Fatalf("InsertJob() error: %v", err)
	}
}

func TestAcquireJob_OnlyOneWinner(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestJob(t, db, "job-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := db.AcquireJob(ctx, "job-1")
			if err != nil {
				t.Errorf("AcquireJob() error: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	j, err := db.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != domain.JobRunning || j.StartedAt == nil {
		t.Errorf("status=%s startedAt=%v, want running with started_at", j.Status, j.StartedAt)
	}
}

func TestCompleteJob_WriteOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestJob(t, db, "job-1")

	if _, err := db.AcquireJob(ctx, "job-1"); err != nil {
		t.Fatal(err)
	}

	result := domain.JobResult{
		DownloadURL: "/artifacts/job-1.wav",
		MimeType:    "audio/wav",
		SizeBytes:   128,
		SHA256:      "abc123",
	}
	done, err := db.CompleteJob(ctx, "job-1", result, 11, 0)
	if err != nil {
		t.Fatalf("CompleteJob() error: %v", err)
	}
	if !done {
		t.Fatal("first completion should apply")
	}

	// A stale worker finalizing again must leave the first result unchanged.
	late, err := db.FailJob(ctx, "job-1", "PROVIDER_ERROR", "too late")
	if err != nil {
		t.Fatal(err)
	}
	if late {
		t.Error("second completion attempt must not apply")
	}

	j, err := db.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != domain.JobDone {
		t.Errorf("status = %s, want done", j.Status)
	}
	if j.Result == nil || j.Result.SHA256 != "abc123" {
		t.Errorf("result = %+v, want original result intact", j.Result)
	}
	if j.Error != nil {
		t.Errorf("error = %+v, want nil", j.Error)
	}
	if j.Usage.ActualChars == nil || *j.Usage.ActualChars != 11 {
		t.Errorf("actual_chars = %v, want 11", j.Usage.ActualChars)
	}
}

func TestFailJob_RecordsError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestJob(t, db, "job-1")

	if _, err := db.AcquireJob(ctx, "job-1"); err != nil {
		t.Fatal(err)
	}
	failed, err := db.FailJob(ctx, "job-1", "PROVIDER_ERROR", "synth backend unreachable")
	if err != nil {
		t.Fatalf("FailJob() error: %v", err)
	}
	if !failed {
		t.Fatal("fail should apply to a running job")
	}

	j, err := db.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != domain.JobFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
	if j.Error == nil || j.Error.Code != "PROVIDER_ERROR" || j.Error.Message == "" {
		t.Errorf("error = %+v, want PROVIDER_ERROR with message", j.Error)
	}
}

func TestGetJobExecutionInput(t *testing.T) {
	db := openTestDB(t)
	insertTestJob(t, db, "job-1")

	in, err := db.GetJobExecutionInput(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJobExecutionInput() error: %v", err)
	}
	if in.Text != "hello world" || in.ReservedChars != 11 || in.AgentID != "agent-1" {
		t.Errorf("input = %+v, want snapshot fields", in)
	}

	if _, err := db.GetJobExecutionInput(context.Background(), "missing"); err != domain.ErrJobNotFound {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestRequeueStale(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestJob(t, db, "job-old")
	insertTestJob(t, db, "job-fresh")

	if _, err := db.AcquireJob(ctx, "job-old"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AcquireJob(ctx, "job-fresh"); err != nil {
		t.Fatal(err)
	}

	// Negative age puts the cutoff in the future: both running jobs look stale.
	requeued, err := db.RequeueStale(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("RequeueStale() error: %v", err)
	}
	if len(requeued) != 2 {
		t.Fatalf("requeued = %v, want both jobs", requeued)
	}

	j, err := db.GetJob(ctx, "job-old")
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != domain.JobQueued || j.StartedAt != nil {
		t.Errorf("status=%s startedAt=%v, want queued with cleared started_at", j.Status, j.StartedAt)
	}

	// A generous age threshold: nothing is stale.
	requeued, err = db.RequeueStale(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(requeued) != 0 {
		t.Errorf("requeued = %v, want none", requeued)
	}
}

func TestJobCounts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	insertTestJob(t, db, "j1")
	insertTestJob(t, db, "j2")
	if _, err := db.AcquireJob(ctx, "j2"); err != nil {
		t.Fatal(err)
	}

	s, err := db.JobCounts(ctx)
	if err != nil {
		t.Fatalf("JobCounts() error: %v", err)
	}
	if s.Total != 2 || s.Queued != 1 || s.Running != 1 {
		t.Errorf("counts = %+v, want total=2 queued=1 running=1", s)
	}
}
