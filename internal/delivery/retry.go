package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kassa/internal/log"
)

// RetryingSender retries rate-limited sends using the server's retry hint.
// Any other failure is logged and returned wrapped in ErrDropped.
type RetryingSender struct {
	next        Sender
	maxAttempts int
	maxWait     time.Duration
	logger      *log.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRetryingSender(next Sender, maxAttempts int, maxWait time.Duration, logger *log.Logger) *RetryingSender {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &RetryingSender{
		next:        next,
		maxAttempts: maxAttempts,
		maxWait:     maxWait,
		logger:      logger.WithComponent(log.ComponentDelivery),
		sleep:       sleepContext,
	}
}

func (s *RetryingSender) Send(ctx context.Context, chatID int64, text string) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.next.Send(ctx, chatID, text)
		if err == nil {
			return nil
		}

		var rl *RateLimitError
		if !errors.As(err, &rl) {
			s.logger.WarnContext(ctx, "Dropping message after delivery failure",
				log.FieldChatID, chatID,
				log.FieldAttempt, attempt,
				log.FieldError, err)
			return fmt.Errorf("%w: %w", ErrDropped, err)
		}

		lastErr = err
		if attempt == s.maxAttempts {
			break
		}
		wait := rl.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		if wait > s.maxWait {
			return fmt.Errorf("deliver to %d: retry after %s exceeds max wait %s: %w", chatID, wait, s.maxWait, err)
		}

		s.logger.InfoContext(ctx, "Rate limited, waiting before retry",
			log.FieldChatID, chatID,
			log.FieldAttempt, attempt,
			"retry_after", wait.String())
		if err := s.sleep(ctx, wait); err != nil {
			return fmt.Errorf("deliver to %d: %w", chatID, err)
		}
	}
	return fmt.Errorf("deliver to %d: gave up after %d attempts: %w", chatID, s.maxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
