//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"ai-request-queue/internal/domain"
	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/infra/memqueue"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

var fixedNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func recordJSON(t *testing.T, id, prompt string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":        id,
		"prompt":    prompt,
		"sessionId": "sess-1",
		"timestamp": fixedNow.Add(-time.Hour).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// putProcessing places a record in processing aged relative to fixedNow.
func putProcessing(t *testing.T, s *memqueue.Store, id, prompt string, age time.Duration) []byte {
	t.Helper()
	data := recordJSON(t, id, prompt)
	s.Put(model.StateProcessing, id, data, fixedNow.Add(-age))
	return data
}

// fakeLocker is a ScanLocker whose outcome is scripted.
type fakeLocker struct {
	held     bool
	err      error
	locked   int
	unlocked int
}

func (f *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.held {
		return "", domain.ErrLockHeld
	}
	f.locked++
	return "tok", nil
}

func (f *fakeLocker) Unlock(ctx context.Context, key, token string) error {
	f.unlocked++
	return nil
}
