package cooldown

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const wakeChannel = "queue:wake"

// Wake is the optional push notification for high-priority enqueues: workers
// poll on an interval as the floor guarantee, and a wake message just cuts
// the latency of the next poll.
type Wake struct {
	client *redis.Client
}

// NewWake builds a wake signal on an existing Redis client.
func NewWake(client *redis.Client) *Wake {
	return &Wake{client: client}
}

// Notify nudges all subscribed workers. Best effort; errors are returned but
// callers may ignore them since polling picks the job up regardless.
func (w *Wake) Notify(ctx context.Context) error {
	return w.client.Publish(ctx, wakeChannel, "1").Err()
}

// Listen subscribes to wake notifications and forwards them to the returned
// channel until ctx is cancelled.
func (w *Wake) Listen(ctx context.Context) (<-chan struct{}, func()) {
	sub := w.client.Subscribe(ctx, wakeChannel)
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, func() { _ = sub.Close() }
}
