// Package forward relays the local event journal to a remote Phoenix
// endpoint over a WebSocket channel.
package forward

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/eshe-huli/ringforge/fem/internal/store"
)

const (
	// Topic is the channel every instance pushes its events on.
	Topic = "fem:events"
	// EventChanged is the event name of a forwarded journal entry.
	EventChanged = "file:changed"

	pushTimeout = 10 * time.Second
	batchSize   = 100
)

// Payload is the body of a file:changed push.
type Payload struct {
	Instance string `json:"instance"`
	ID       uint64 `json:"id"`
	Path     string `json:"path"`
	Mask     uint32 `json:"mask"`
	Hash     string `json:"hash,omitempty"`
	At       string `json:"at"`
}

func newPayload(instance string, e store.Entry) Payload {
	p := Payload{
		Instance: instance,
		ID:       e.FileID,
		Path:     e.Path,
		Mask:     e.Mask,
		At:       e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(e.Hash) > 0 {
		p.Hash = hex.EncodeToString(e.Hash)
	}
	return p
}

// Flush pushes up to one batch of pending journal entries. Entries the
// server acknowledges are marked forwarded; rejected ones record the error
// and stay pending. It returns the number of entries forwarded.
func Flush(c *Client, s *store.Store, instance string) (int, error) {
	items, err := s.PendingItems(batchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	ch := NewChannel(c, Topic, map[string]any{"instance": instance})
	if err := ch.Join(pushTimeout); err != nil {
		return 0, err
	}
	defer ch.Leave()

	forwarded := 0
	for _, item := range items {
		if _, err := ch.Push(EventChanged, newPayload(instance, item), pushTimeout); err != nil {
			c.logger.Warn("forward failed", "path", item.Path, "entry", item.ID, "error", err)
			if err := s.MarkFailed(item.ID, err.Error()); err != nil {
				c.logger.Warn("mark failed", "entry", item.ID, "error", err)
			}
			continue
		}
		if err := s.Dequeue(item.ID); err != nil {
			c.logger.Warn("dequeue failed", "entry", item.ID, "error", err)
			continue
		}
		forwarded++
	}
	return forwarded, nil
}

// Run flushes the journal every interval until ctx is cancelled.
func Run(ctx context.Context, c *Client, s *store.Store, instance string, every time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "forward")

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := Flush(c, s, instance)
			if err != nil {
				logger.Warn("flush failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("forwarded events", "count", n)
			}
		}
	}
}
