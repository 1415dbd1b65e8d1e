package middleware

import (
	"context"
	"strings"
	"testing"

	"github.com/longbridgeapp/assert"

	"github.com/hyp3rd/listsync/pkg/model"
)

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Printf(format string, v ...any) {
	l.lines = append(l.lines, format)
}

type stubService struct {
	calls []string
}

func (s *stubService) AddToBuffer(_ context.Context, _ string, _ []model.List) error {
	s.calls = append(s.calls, "AddToBuffer")

	return nil
}

func (s *stubService) ResolveChanges(_ context.Context, _, listID string, _ []model.BufferedChange) (*model.List, error) {
	s.calls = append(s.calls, "ResolveChanges")

	return &model.List{ID: listID}, nil
}

func (s *stubService) UnresolvedChanges(_ context.Context, _ string) ([]model.BufferedChange, error) {
	s.calls = append(s.calls, "UnresolvedChanges")

	return nil, nil
}

func (s *stubService) MarkChangesResolved(_ context.Context, _ string, _ []string) error {
	s.calls = append(s.calls, "MarkChangesResolved")

	return nil
}

func (s *stubService) AllListsForUser(_ context.Context, _ string) ([]model.List, error) {
	s.calls = append(s.calls, "AllListsForUser")

	return nil, nil
}

func (s *stubService) CleanupResolvedChanges(_ context.Context) (int64, error) {
	s.calls = append(s.calls, "CleanupResolvedChanges")

	return 7, nil
}

func (s *stubService) IsJobAlreadyQueuedForUser(_ context.Context, _ string) (bool, error) {
	s.calls = append(s.calls, "IsJobAlreadyQueuedForUser")

	return true, nil
}

func (s *stubService) EnqueueProcessing(_ context.Context, _, _ string, _ bool) (string, error) {
	s.calls = append(s.calls, "EnqueueProcessing")

	return "job-1", nil
}

func TestLoggingMiddleware_DelegatesAndLogs(t *testing.T) {
	ctx := context.Background()
	next := &stubService{}
	logger := &recordingLogger{}
	service := NewLoggingMiddleware(next, logger)

	err := service.AddToBuffer(ctx, "user-1", []model.List{{ID: "list-1"}})
	assert.Nil(t, err)

	list, err := service.ResolveChanges(ctx, "user-1", "list-1", []model.BufferedChange{{ID: "change-1"}})
	assert.Nil(t, err)
	assert.Equal(t, "list-1", list.ID)

	_, err = service.UnresolvedChanges(ctx, "user-1")
	assert.Nil(t, err)

	err = service.MarkChangesResolved(ctx, "user-1", []string{"change-1"})
	assert.Nil(t, err)

	_, err = service.AllListsForUser(ctx, "user-1")
	assert.Nil(t, err)

	deleted, err := service.CleanupResolvedChanges(ctx)
	assert.Nil(t, err)
	assert.Equal(t, int64(7), deleted)

	queued, err := service.IsJobAlreadyQueuedForUser(ctx, "user-1")
	assert.Nil(t, err)
	assert.True(t, queued)

	jobID, err := service.EnqueueProcessing(ctx, "user-1", "user-1", false)
	assert.Nil(t, err)
	assert.Equal(t, "job-1", jobID)

	assert.Equal(t, []string{
		"AddToBuffer",
		"ResolveChanges",
		"UnresolvedChanges",
		"MarkChangesResolved",
		"AllListsForUser",
		"CleanupResolvedChanges",
		"IsJobAlreadyQueuedForUser",
		"EnqueueProcessing",
	}, next.calls)

	// Every method logs an invocation line and an elapsed-time line.
	assert.Equal(t, 16, len(logger.lines))

	took := 0
	for _, line := range logger.lines {
		if strings.Contains(line, "took") {
			took++
		}
	}

	assert.Equal(t, 8, took)
}
