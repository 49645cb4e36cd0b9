package core

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPageSize            = 50
	DefaultTypingExpiry        = 3 * time.Second
	DefaultTypingSweepInterval = time.Second
	DefaultTypingStaleAfter    = 5 * time.Second
)

type Option func(*ChatService)

// WithNotifier sets the port that receives new-message notifications.
func WithNotifier(n Notifier) Option {
	return func(s *ChatService) { s.notifier = n }
}

// WithClock replaces time.Now for timestamps, stats and the typing sweep.
func WithClock(now func() time.Time) Option {
	return func(s *ChatService) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *ChatService) { s.newID = gen }
}

// WithPageSize sets the default limit of GetMessages.
func WithPageSize(n int) Option {
	return func(s *ChatService) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithTypingTimings sets how long a typing indicator lives on its own, how
// often the sweep runs and the age past which the sweep drops an indicator.
// Zero values keep the defaults.
func WithTypingTimings(expiry, sweepInterval, staleAfter time.Duration) Option {
	return func(s *ChatService) {
		if expiry > 0 {
			s.typingExpiry = expiry
		}
		if sweepInterval > 0 {
			s.sweepInterval = sweepInterval
		}
		if staleAfter > 0 {
			s.staleAfter = staleAfter
		}
	}
}

func defaultOptions(s *ChatService) {
	s.now = time.Now
	s.newID = uuid.NewString
	s.pageSize = DefaultPageSize
	s.typingExpiry = DefaultTypingExpiry
	s.sweepInterval = DefaultTypingSweepInterval
	s.staleAfter = DefaultTypingStaleAfter
}
