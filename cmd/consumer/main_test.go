package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/courier-dispatch/internal/models"
)

type flakyWriter struct {
	failures int
	calls    int
	got      []models.LocationReport
}

func (f *flakyWriter) RecordReport(ctx context.Context, r models.LocationReport) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient store fault")
	}
	f.got = append(f.got, r)
	return nil
}

func report(id string) models.LocationReport {
	return models.LocationReport{
		CourierID: id,
		Point:     models.GeoPoint{Lat: 32.08, Lng: 34.78},
		Status:    models.StatusAvailable,
		Timestamp: time.Now(),
	}
}

func TestApplyWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	w := &flakyWriter{failures: 2}
	err := applyWithRetry(context.Background(), w, report("c1"), 3, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if w.calls != 3 || len(w.got) != 1 {
		t.Fatalf("calls = %d, applied = %d", w.calls, len(w.got))
	}
}

func TestApplyWithRetryGivesUp(t *testing.T) {
	w := &flakyWriter{failures: 10}
	err := applyWithRetry(context.Background(), w, report("c1"), 3, time.Millisecond)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if w.calls != 3 {
		t.Fatalf("calls = %d, want 3", w.calls)
	}
}

func TestApplyWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &flakyWriter{failures: 10}
	err := applyWithRetry(ctx, w, report("c1"), 3, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if w.calls != 1 {
		t.Fatalf("calls = %d, want 1 before the backoff wait", w.calls)
	}
}
