package follower

import (
	"context"
	"errors"
	"time"

	"github.com/hilthontt/readalong/pkg/protocol"
)

// Poller follows a room over the pull binding: it reads the room state on
// an interval and offers each position to the Follower.
type Poller struct {
	client    *Client
	follower  *Follower
	code      string
	interval  time.Duration
	heartbeat time.Duration

	cursor   time.Time
	lastBeat time.Time

	// OnState, when set, observes every successful poll.
	OnState func(protocol.RoomStateEvent)
	// OnMessages, when set, receives new chat messages on every poll. The
	// first poll delivers the recent history.
	OnMessages func([]protocol.MessageReceivedEvent)
}

func NewPoller(client *Client, f *Follower, code string, interval time.Duration) (*Poller, error) {
	if code == "" {
		return nil, ErrMissingRoomCode
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		client:    client,
		follower:  f,
		code:      code,
		interval:  interval,
		heartbeat: DefaultHeartbeat,
	}, nil
}

// Poll runs one round and reports whether the view moved.
func (p *Poller) Poll(ctx context.Context) (bool, error) {
	state, err := p.client.State(ctx, p.code)
	if err != nil {
		return false, err
	}
	if p.OnState != nil {
		p.OnState(state)
	}

	p.follower.SetRoomSync(state.SyncEnabled)
	moved := p.follower.Apply(Update{
		Position:  state.Position,
		PageIndex: state.PageIndex,
		Timestamp: state.UpdatedAt,
	})

	if p.OnMessages != nil {
		msgs, err := p.client.Messages(ctx, p.code, p.cursor, 0)
		if err != nil {
			return moved, err
		}
		if len(msgs) > 0 {
			p.cursor = msgs[len(msgs)-1].Timestamp
			p.OnMessages(msgs)
		}
	}
	return moved, nil
}

// Beat sends a heartbeat carrying the reader's current position when the
// heartbeat interval has passed since the last one.
func (p *Poller) Beat(ctx context.Context, now time.Time) error {
	if now.Sub(p.lastBeat) < p.heartbeat {
		return nil
	}
	pos := p.follower.View().Position
	if err := p.client.Heartbeat(ctx, p.code, &pos); err != nil {
		return err
	}
	p.lastBeat = now
	return nil
}

// Run polls until ctx is done or the room is gone. Rate limited polls back
// off for the advertised time; other failures are retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		_, err := p.Poll(ctx)
		if err == nil {
			err = p.Beat(ctx, time.Now())
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.Gone() {
				return err
			}
			if apiErr.RetryAfterSeconds > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(apiErr.RetryAfterSeconds) * time.Second):
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
