package snapshot

import "context"

// Bus fans out snapshot version changes to subscribed listeners without
// locks. Open dashboards sit on the other end of these subscriptions, so
// non-blocking sends keep a stalled browser from holding up the poller.
type Bus struct {
	publish     chan string
	subscribe   chan chan string
	unsubscribe chan chan string
}

// NewBus constructs a broadcaster dedicated to version fan-out. The
// goroutine never stops because it is tied to the process lifetime and
// relies on caller contexts to prune subscribers.
func NewBus(buffer int) *Bus {
	b := &Bus{
		publish:     make(chan string, buffer),
		subscribe:   make(chan chan string),
		unsubscribe: make(chan chan string),
	}
	go b.run()
	return b
}

// Publish forwards a new version to every listener. The send is
// non-blocking; with one publish per rebuild the buffer never fills in
// practice, and a dropped event only delays a dashboard until its next
// interaction.
func (b *Bus) Publish(version string) {
	select {
	case b.publish <- version:
	default:
	}
}

// Subscribe registers interest in version changes. The returned channel
// closes when the provided context ends.
func (b *Bus) Subscribe(ctx context.Context, buffer int) <-chan string {
	ch := make(chan string, buffer)
	b.subscribe <- ch

	go func() {
		<-ctx.Done()
		b.unsubscribe <- ch
		close(ch)
	}()

	return ch
}

func (b *Bus) run() {
	listeners := make(map[chan string]struct{})

	for {
		select {
		case ch := <-b.subscribe:
			listeners[ch] = struct{}{}
		case ch := <-b.unsubscribe:
			delete(listeners, ch)
		case version := <-b.publish:
			for ch := range listeners {
				select {
				case ch <- version:
				default:
				}
			}
		}
	}
}
