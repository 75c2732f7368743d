// Package registry tracks which live channels are subscribed to which user's activity stream.
package registry

import (
	"context"
	"errors"
	"sync"
)

// ErrRegistryClosed is returned by Subscribe once the registry has been drained.
var ErrRegistryClosed = errors.New("subscription registry closed")

// Channel is one live connection able to receive pushed payloads.
type Channel interface {
	// ID is unique per connection for the lifetime of the process.
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

type membership struct {
	userID  string
	channel Channel
}

// Registry maps user identities to their subscribed channels.
type Registry struct {
	mu        sync.RWMutex
	byUser    map[string]map[string]Channel
	byChannel map[string]membership
	closed    bool
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byUser:    make(map[string]map[string]Channel),
		byChannel: make(map[string]membership),
	}
}

// Subscribe attaches channel to userID, replacing any previous association of the channel.
// It returns the user the channel was previously subscribed to, if any.
func (r *Registry) Subscribe(userID string, channel Channel) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRegistryClosed
	}

	id := channel.ID()
	previous, had := r.byChannel[id]
	if had {
		if previous.userID == userID {
			return previous.userID, nil
		}
		r.removeLocked(id, previous.userID)
	}

	channels, ok := r.byUser[userID]
	if !ok {
		channels = make(map[string]Channel)
		r.byUser[userID] = channels
	}
	channels[id] = channel
	r.byChannel[id] = membership{userID: userID, channel: channel}

	if had {
		return previous.userID, nil
	}
	return "", nil
}

// Unsubscribe detaches channel from whichever user it follows. Unknown channels are a no-op.
func (r *Registry) Unsubscribe(channel Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := channel.ID()
	current, ok := r.byChannel[id]
	if !ok {
		return false
	}
	r.removeLocked(id, current.userID)
	return true
}

func (r *Registry) removeLocked(channelID, userID string) {
	delete(r.byChannel, channelID)
	channels := r.byUser[userID]
	delete(channels, channelID)
	if len(channels) == 0 {
		delete(r.byUser, userID)
	}
}

// ChannelsFor returns a snapshot of the channels subscribed to userID.
func (r *Registry) ChannelsFor(userID string) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := r.byUser[userID]
	out := make([]Channel, 0, len(channels))
	for _, channel := range channels {
		out = append(out, channel)
	}
	return out
}

// UserFor reports the user a channel is subscribed to.
func (r *Registry) UserFor(channel Channel) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byChannel[channel.ID()]
	return m.userID, ok
}

// Len returns the number of subscribed channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChannel)
}

// Users returns the number of users with at least one channel.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Close drains the registry, closing every channel. Later subscriptions are refused.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	channels := make([]Channel, 0, len(r.byChannel))
	for _, m := range r.byChannel {
		channels = append(channels, m.channel)
	}
	r.byUser = make(map[string]map[string]Channel)
	r.byChannel = make(map[string]membership)
	r.mu.Unlock()

	var errs error
	for _, channel := range channels {
		if err := ctx.Err(); err != nil {
			return errors.Join(errs, err)
		}
		if err := channel.Close(); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}
