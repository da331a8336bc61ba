// Package feedback records non-delivered push results in Redis so a host can
// drain identifier changes and dead tokens and update its own registry.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tinywideclouds/go-push-dispatcher/pkg/dispatch"
)

// TokenFeedback is one reported result as stored in Redis.
type TokenFeedback struct {
	Dispatcher  string `json:"dispatcher"`
	Token       string `json:"token"`
	Replacement string `json:"replacement_token,omitempty"`
	Code        string `json:"code"`
	Action      string `json:"action"`
	Timestamp   int64  `json:"timestamp"`
}

// redisClient defines the interface we need from go-redis.
type redisClient interface {
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	LPopCount(ctx context.Context, key string, count int) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// RedisFeedbackStore keeps one bounded list per dispatcher:
// `push:feedback:{dispatcher}`, oldest entry first.
type RedisFeedbackStore struct {
	client redisClient
	maxLen int64
	now    func() time.Time
	logger *slog.Logger
}

// NewRedisFeedbackStore creates the store. maxLen <= 0 leaves lists unbounded.
func NewRedisFeedbackStore(client redisClient, maxLen int64, logger *slog.Logger) (*RedisFeedbackStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisFeedbackStore{
		client: client,
		maxLen: maxLen,
		now:    time.Now,
		logger: logger.With("component", "RedisFeedbackStore"),
	}, nil
}

// Sink returns an ErrorSink that records into the named dispatcher's list.
func (s *RedisFeedbackStore) Sink(dispatcher string) dispatch.ErrorSink {
	return dispatch.ErrorSinkFunc(func(ctx context.Context, code string, result dispatch.Result) error {
		return s.Push(ctx, TokenFeedback{
			Dispatcher:  dispatcher,
			Token:       result.Recipient,
			Replacement: result.CanonicalID,
			Code:        code,
			Action:      dispatch.ActionFor(code).String(),
		})
	})
}

// Push appends one entry and trims the list in the same MULTI/EXEC.
func (s *RedisFeedbackStore) Push(ctx context.Context, fb TokenFeedback) error {
	if fb.Timestamp == 0 {
		fb.Timestamp = s.now().Unix()
	}
	payload, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}

	key := feedbackKey(fb.Dispatcher)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		if s.maxLen > 0 {
			pipe.LTrim(ctx, key, -s.maxLen, -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push feedback: %w", err)
	}
	return nil
}

// Pop removes and returns up to limit entries, oldest first.
func (s *RedisFeedbackStore) Pop(ctx context.Context, dispatcher string, limit int) ([]TokenFeedback, error) {
	if limit <= 0 {
		return []TokenFeedback{}, nil
	}
	key := feedbackKey(dispatcher)
	raw, err := s.client.LPopCount(ctx, key, limit).Result()
	if errors.Is(err, redis.Nil) {
		return []TokenFeedback{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lpop feedback: %w", err)
	}

	out := make([]TokenFeedback, 0, len(raw))
	for _, item := range raw {
		var fb TokenFeedback
		if err := json.Unmarshal([]byte(item), &fb); err != nil {
			s.logger.Warn("Dropping poison feedback entry", "key", key, "err", err)
			continue
		}
		out = append(out, fb)
	}
	return out, nil
}

// Len returns the number of pending entries for a dispatcher.
func (s *RedisFeedbackStore) Len(ctx context.Context, dispatcher string) (int64, error) {
	n, err := s.client.LLen(ctx, feedbackKey(dispatcher)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to llen feedback: %w", err)
	}
	return n, nil
}

func feedbackKey(dispatcher string) string {
	return fmt.Sprintf("push:feedback:%s", dispatcher)
}
