package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("run-001", "composite", "memory")

	c.IncHTTPAttempt()
	c.IncHTTPAttempt()
	c.IncHTTPAttempt()
	c.IncHTTPRetry("status_503")
	c.IncHTTPRetry("status_503")
	c.IncHTTPRetry("timeout")
	c.IncHTTPFatal()
	c.IncHTTPExhausted()
	c.IncHTTPTimeout()
	c.IncGenerationCall()
	c.IncGenerationCall()
	c.IncVerificationCall()
	c.IncQCFailOpen()
	c.IncCorrectiveRetry()
	c.IncItemSucceeded()
	c.IncItemWarned()
	c.IncItemFailed()
	c.IncItemFailed()
	c.IncItemCancelled()
	c.IncUploadSuccess()
	c.IncUploadFailure()
	c.AddEviction(100)
	c.AddEviction(50)

	s := c.Snapshot()

	if s.HTTPAttempts != 3 {
		t.Errorf("HTTPAttempts = %d, want 3", s.HTTPAttempts)
	}
	if s.HTTPRetries != 3 {
		t.Errorf("HTTPRetries = %d, want 3", s.HTTPRetries)
	}
	if s.RetriesByCause["status_503"] != 2 {
		t.Errorf("RetriesByCause[status_503] = %d, want 2", s.RetriesByCause["status_503"])
	}
	if s.RetriesByCause["timeout"] != 1 {
		t.Errorf("RetriesByCause[timeout] = %d, want 1", s.RetriesByCause["timeout"])
	}
	if s.HTTPFatal != 1 || s.HTTPExhausted != 1 || s.HTTPTimeouts != 1 {
		t.Errorf("unexpected transport counters: %+v", s)
	}
	if s.GenerationCalls != 2 {
		t.Errorf("GenerationCalls = %d, want 2", s.GenerationCalls)
	}
	if s.VerificationCalls != 1 || s.QCFailOpen != 1 || s.CorrectiveRetries != 1 {
		t.Errorf("unexpected pipeline counters: %+v", s)
	}
	if s.ItemsSucceeded != 1 || s.ItemsWarned != 1 || s.ItemsFailed != 2 || s.ItemsCancelled != 1 {
		t.Errorf("unexpected item counters: %+v", s)
	}
	if s.UploadSuccess != 1 || s.UploadFailure != 1 {
		t.Errorf("unexpected upload counters: %+v", s)
	}
	if s.Evictions != 2 || s.EvictedBytes != 150 {
		t.Errorf("Evictions = %d/%d bytes, want 2/150", s.Evictions, s.EvictedBytes)
	}
}

func TestCollector_Dimensions(t *testing.T) {
	s := NewCollector("run-42", "template", "s3").Snapshot()

	if s.RunID != "run-42" {
		t.Errorf("RunID = %q, want %q", s.RunID, "run-42")
	}
	if s.Mode != "template" {
		t.Errorf("Mode = %q, want %q", s.Mode, "template")
	}
	if s.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q, want %q", s.StorageBackend, "s3")
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncHTTPAttempt()
	c.IncHTTPRetry("status_429")
	c.IncGenerationCall()
	c.IncItemFailed()
	c.AddEviction(10)

	s := c.Snapshot()
	if s.HTTPAttempts != 0 || s.RetriesByCause != nil {
		t.Errorf("nil collector snapshot should be zero, got %+v", s)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("run-1", "composite", "memory")
	c.IncHTTPRetry("status_500")

	s := c.Snapshot()
	s.RetriesByCause["status_500"] = 99

	if got := c.Snapshot().RetriesByCause["status_500"]; got != 1 {
		t.Errorf("snapshot mutation leaked into collector: %d", got)
	}
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := NewCollector("run-1", "composite", "memory")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncHTTPAttempt()
			c.IncGenerationCall()
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.HTTPAttempts != 50 || s.GenerationCalls != 50 {
		t.Errorf("lost increments: %+v", s)
	}
}
