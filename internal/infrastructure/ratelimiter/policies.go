package ratelimiter

import "time"

// DefaultPolicies returns the built-in policy for every category.
func DefaultPolicies() map[Category]Policy {
	return map[Category]Policy{
		// failed credentials are expensive to guess, block for long
		CategoryAuth: {
			Window:        15 * time.Minute,
			MaxRequests:   5,
			BlockDuration: 30 * time.Minute,
		},
		CategoryRoomCreate: {
			Window:        time.Hour,
			MaxRequests:   10,
			BlockDuration: time.Hour,
		},
		CategoryRoomJoin: {
			Window:        time.Minute,
			MaxRequests:   20,
			BlockDuration: 5 * time.Minute,
		},
		CategoryChat: {
			Window:        time.Minute,
			MaxRequests:   30,
			BlockDuration: 10 * time.Minute,
		},
		CategoryReaction: {
			Window:        time.Minute,
			MaxRequests:   60,
			BlockDuration: 2 * time.Minute,
		},
		CategoryComment: {
			Window:        time.Minute,
			MaxRequests:   20,
			BlockDuration: 5 * time.Minute,
		},
		// the host streams positions while scrolling
		CategorySync: {
			Window:        time.Second,
			MaxRequests:   30,
			BlockDuration: 5 * time.Second,
		},
		CategoryPoll: {
			Window:        time.Minute,
			MaxRequests:   600,
			BlockDuration: time.Minute,
		},
	}
}
