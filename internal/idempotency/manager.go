// Package idempotency drops redelivered Telegram updates. The poller re-sends
// updates after restarts and network hiccups; executing a /tip handler twice
// would start two authorization flows for one message.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

var ErrRequestInProgress = errors.New("request with this key is already in progress")

type Operation func(ctx context.Context) (interface{}, error)

type Result struct {
	Response  interface{}
	FromCache bool
}

type Manager interface {
	Execute(
		ctx context.Context,
		key string,
		ttl time.Duration,
		fn Operation,
	) (*Result, error)
}

type manager struct {
	store Store
	log   *slog.Logger
}

func NewManager(store Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		store: store,
		log:   log,
	}
}

// Execute runs fn at most once per key. A concurrent duplicate is dropped
// with ErrRequestInProgress rather than awaited: a redelivered bot update
// needs no answer, it needs to not run again. A duplicate arriving after
// completion gets the cached response.
func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	locked, err := m.store.Lock(ctx, key, 5*time.Minute)
	if err != nil {
		return nil, err
	}

	if !locked {
		record, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		cached, err := cachedResult(record)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}

		return nil, ErrRequestInProgress
	}

	defer func() {
		if err := m.store.ReleaseLock(ctx, key); err != nil {
			m.log.Warn("failed to release idempotency lock", slog.String("key", key), slog.Any("error", err))
		}
	}()

	// The lock is released once the record is written, so a redelivery
	// after completion acquires it again. The record, not the lock, is
	// what makes the operation at-most-once.
	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	cached, err := cachedResult(record)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	responseBytes, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	if err := m.store.Set(ctx, key, &Record{
		Status:   StatusCompleted,
		Response: responseBytes,
	}, ttl); err != nil {
		return nil, err
	}

	return &Result{
		Response:  result,
		FromCache: false,
	}, nil
}

// cachedResult decodes a completed record into a replayable result, or nil
// when the record is absent or still processing.
func cachedResult(record *Record) (*Result, error) {
	if record == nil || record.Status != StatusCompleted {
		return nil, nil
	}

	var response interface{}
	if len(record.Response) > 0 {
		if err := json.Unmarshal(record.Response, &response); err != nil {
			return nil, err
		}
	}

	return &Result{Response: response, FromCache: true}, nil
}
