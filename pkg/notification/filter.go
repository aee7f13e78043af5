package notification

import (
	"github.com/funcscan/flowdesk/pkg/models"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultDedupWindow = 1024

// Deduplicator remembers the most recent notification ids.
type Deduplicator struct {
	seen *lru.Cache[int64, struct{}]
}

func NewDeduplicator(size int) *Deduplicator {
	if size <= 0 {
		size = DefaultDedupWindow
	}

	// lru.New only fails on a non-positive size.
	cache, _ := lru.New[int64, struct{}](size)

	return &Deduplicator{seen: cache}
}

// Unseen reports whether n was not delivered before, and records it.
// Notifications without an id are always delivered.
func (d *Deduplicator) Unseen(n models.Notification) bool {
	if n.ID == 0 {
		return true
	}

	if d.seen.Contains(n.ID) {
		return false
	}

	d.seen.Add(n.ID, struct{}{})

	return true
}

// ProgressionOnly keeps the execution progress stream.
func ProgressionOnly(n models.Notification) bool {
	return n.IsProgression()
}

// Filter forwards the notifications of in accepted by every keep function.
// The returned channel is closed when in is closed.
func Filter(in <-chan models.Notification, keep ...func(models.Notification) bool) <-chan models.Notification {
	out := make(chan models.Notification, cap(in))

	go func() {
		defer close(out)

	next:
		for n := range in {
			for _, k := range keep {
				if !k(n) {
					continue next
				}
			}

			out <- n
		}
	}()

	return out
}
