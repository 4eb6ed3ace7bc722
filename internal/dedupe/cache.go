// ABOUTME: Bounded TTL cache of provider message ids already handed to the triage engine
// ABOUTME: Webhook retries and Matrix sync replays are dropped before they reach the store

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const sweepInterval = time.Minute

type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers message ids for ttl, holding at most maxSize of them. When
// full, the least recently seen id is dropped first.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	lru     *list.List // front is least recently seen
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Cache and starts its expiry sweep. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	c.wg.Add(1)
	go c.sweepLoop()
	return c
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		index:   make(map[string]*list.Element),
		lru:     list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Key builds a cache key scoped to a provider so ids from different
// transports never collide.
func Key(provider, messageID string) string {
	return provider + ":" + messageID
}

// Seen reports whether key was already recorded within the TTL, recording it
// when it was not. Check and record happen under one lock.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		e.seenAt = now
		c.lru.MoveToBack(el)
		return false
	}

	if c.lru.Len() >= c.maxSize {
		c.removeElement(c.lru.Front())
	}
	c.index[key] = c.lru.PushBack(&entry{key: key, seenAt: now})
	return false
}

// Forget drops key so a redelivery is processed again. Used when handling
// the message failed after Seen recorded it.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.removeElement(el)
	}
}

// Len returns the number of remembered ids, expired ones included until the next sweep.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	c.lru.Remove(el)
	delete(c.index, el.Value.(*entry).key)
}

// expire removes entries older than the TTL. Entries are ordered by last
// sighting, so the walk stops at the first live one.
func (c *Cache) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.lru.Front(); el != nil; {
		if now.Sub(el.Value.(*entry).seenAt) < c.ttl {
			return
		}
		next := el.Next()
		c.removeElement(el)
		el = next
	}
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.stop:
			return
		}
	}
}

// Close stops the expiry sweep and waits for it to exit. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}
