// Package middleware provides middleware implementations for the buffer
// service. This package includes logging middleware that wraps the service to
// provide execution time logging and method call tracing for debugging and
// monitoring purposes.
package middleware

import (
	"context"
	"time"

	"github.com/hyp3rd/listsync/pkg/buffer"
	"github.com/hyp3rd/listsync/pkg/model"
)

// Logger describes a logging interface allowing to implement different external, or custom logger.
// Tested with logrus, and Uber's Zap (high-performance), but should work with any other logger that matches the interface.
type Logger interface {
	Printf(format string, v ...any)
}

// LoggingMiddleware is a middleware that logs the time it takes to execute the next middleware.
// Must implement the buffer.Service interface.
type LoggingMiddleware struct {
	next   buffer.Service
	logger Logger
}

// NewLoggingMiddleware returns a new LoggingMiddleware.
func NewLoggingMiddleware(next buffer.Service, logger Logger) buffer.Service {
	return &LoggingMiddleware{next: next, logger: logger}
}

// AddToBuffer logs the time it takes to execute the next middleware.
func (mw LoggingMiddleware) AddToBuffer(ctx context.Context, userID string, lists []model.List) error {
	defer func(begin time.Time) {
		mw.logger.Printf("method AddToBuffer took: %s", time.Since(begin))
	}(time.Now())

	mw.logger.Printf("AddToBuffer method invoked with userID: %s lists: %d", userID, len(lists))

	return mw.next.AddToBuffer(ctx, userID, lists)
}

// ResolveChanges logs the time it takes to execute the next middleware.
func (mw LoggingMiddleware) ResolveChanges(ctx context.Context, userID, listID string, changes []model.BufferedChange) (*model.List, error) {
	defer func(begin time.Time) {
		mw.logger.Printf("method ResolveChanges took: %s", time.Since(begin))
	}(time.Now())

	mw.logger.Printf("ResolveChanges method invoked with userID: %s listID: %s changes: %d", userID, listID, len(changes))

	return mw.next.ResolveChanges(ctx, userID, listID, changes)
}

// UnresolvedChanges logs the time it takes to execute the next middleware.
func (mw LoggingMiddleware) UnresolvedChanges(ctx context.Context, userID string) ([]model.BufferedChange, error) {
	defer func(begin time.Time) {
		mw.logger.Printf("method UnresolvedChanges took: %s", time.Since(begin))
	}(time.Now())

	mw.logger.Printf("UnresolvedChanges method invoked with userID: %s", userID)

	return mw.next.UnresolvedChanges(ctx, userID)
}

// MarkChangesResolved logs the time it takes to execute the next middleware.
func (mw LoggingMiddleware) MarkChangesResolved(ctx context.Context, userID string, ids []string) error {
	defer func(begin time.Time) {
		mw.logger.Printf("method MarkChangesResolved took: %s", time.Since(begin))
	}(time.Now())

	mw.logger.Printf("MarkChangesResolved method invoked with userID: %s ids: %d", userID, len(ids))

	return mw.next.MarkChangesResolved(ctx, userID, ids)
}

// AllListsForUser logs the time it takes to execute the next middleware.
func (mw LoggingMiddleware) AllListsForUser(ctx context.Context, userID string) ([]model.List, error) {
	defer func(begin time.Time) {
		mw.logger.Printf("method AllListsForUser took: %s", time.Since(begin))
	}(time.Now())

	mw.logger.Printf("AllListsForUser method invoked with userID: %s", userID)

	return mw.next.AllListsForUser(ctx, userID)
}

// CleanupResolvedChanges logs the time it takes to execute the next middleware.
func (mw LoggingMiddleware) CleanupResolvedChanges(ctx context.Context) (int64, error) {
	defer func(begin time.Time) {
		mw.logger.Printf("method CleanupResolvedChanges took: %s", time.Since(begin))
	}(time.Now())

	mw.logger.Printf("CleanupResolvedChanges method invoked")

	return mw.next.CleanupResolvedChanges(ctx)
}

// IsJobAlreadyQueuedForUser logs the time it takes to execute the next middleware.
func (mw LoggingMiddleware) IsJobAlreadyQueuedForUser(ctx context.Context, userID string) (bool, error) {
	defer func(begin time.Time) {
		mw.logger.Printf("method IsJobAlreadyQueuedForUser took: %s", time.Since(begin))
	}(time.Now())

	mw.logger.Printf("IsJobAlreadyQueuedForUser method invoked with userID: %s", userID)

	return mw.next.IsJobAlreadyQueuedForUser(ctx, userID)
}

// EnqueueProcessing logs the time it takes to execute the next middleware.
func (mw LoggingMiddleware) EnqueueProcessing(ctx context.Context, userID, requesterID string, emptySync bool) (string, error) {
	defer func(begin time.Time) {
		mw.logger.Printf("method EnqueueProcessing took: %s", time.Since(begin))
	}(time.Now())

	mw.logger.Printf("EnqueueProcessing method invoked with userID: %s emptySync: %t", userID, emptySync)

	return mw.next.EnqueueProcessing(ctx, userID, requesterID, emptySync)
}
