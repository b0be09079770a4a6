package sender

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/skypro1111/collectd-listener/internal/protocol"
)

// maxHostsPerSender bounds the collectd host names remembered per source
const maxHostsPerSender = 64

// Sender is a snapshot of one datagram source
type Sender struct {
	Address      string    `json:"address"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	Datagrams    uint64    `json:"datagrams"`
	Measurements uint64    `json:"measurements"`
	Alerts       uint64    `json:"alerts"`
	DecodeErrors uint64    `json:"decode_errors"`
	LastError    string    `json:"last_error,omitempty"`
	Hosts        []string  `json:"hosts"`
}

// entry is the mutable state stored in the cache
type entry struct {
	sender Sender
	hosts  map[string]struct{}
}

func (e *entry) snapshot() Sender {
	s := e.sender
	s.Hosts = make([]string, 0, len(e.hosts))
	for h := range e.hosts {
		s.Hosts = append(s.Hosts, h)
	}
	sort.Strings(s.Hosts)
	return s
}

// Registry remembers datagram sources until they have been idle for the TTL
type Registry struct {
	cache  *cache.Cache
	logger *slog.Logger
	mu     sync.Mutex
}

// NewRegistry creates a registry whose entries expire ttl after their last datagram
func NewRegistry(ttl, cleanupInterval time.Duration, logger *slog.Logger) *Registry {
	r := &Registry{
		cache:  cache.New(ttl, cleanupInterval),
		logger: logger,
	}

	r.cache.OnEvicted(func(addr string, v interface{}) {
		e, ok := v.(*entry)
		if !ok {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		r.logger.Info("Sender expired",
			slog.String("remote_addr", addr),
			slog.Uint64("datagrams", e.sender.Datagrams),
			slog.Time("last_seen", e.sender.LastSeen),
		)
	})

	return r
}

// touch returns the entry for addr, creating it if needed, and refreshes its expiry.
// Callers must hold r.mu.
func (r *Registry) touch(addr string, at time.Time) *entry {
	var e *entry
	if v, ok := r.cache.Get(addr); ok {
		e = v.(*entry)
	} else {
		e = &entry{
			sender: Sender{Address: addr, FirstSeen: at},
			hosts:  make(map[string]struct{}),
		}
		r.logger.Info("New sender", slog.String("remote_addr", addr))
	}

	e.sender.LastSeen = at
	e.sender.Datagrams++
	r.cache.Set(addr, e, cache.DefaultExpiration)
	return e
}

// Observe records a successfully decoded datagram from addr
func (r *Registry) Observe(addr string, pkt *protocol.Packet, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.touch(addr, at)
	e.sender.Measurements += uint64(len(pkt.Measurements))
	e.sender.Alerts += uint64(len(pkt.Alerts))

	for i := range pkt.Measurements {
		r.addHost(e, pkt.Measurements[i].Host)
	}
	for i := range pkt.Alerts {
		r.addHost(e, pkt.Alerts[i].Host)
	}
}

// ObserveError records a datagram from addr that failed to decode
func (r *Registry) ObserveError(addr string, err error, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.touch(addr, at)
	e.sender.DecodeErrors++
	e.sender.LastError = err.Error()
}

func (r *Registry) addHost(e *entry, host string) {
	if host == "" || len(e.hosts) >= maxHostsPerSender {
		return
	}
	e.hosts[host] = struct{}{}
}

// Get returns the sender for addr if it has not expired
func (r *Registry) Get(addr string) (Sender, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.cache.Get(addr)
	if !ok {
		return Sender{}, false
	}
	return v.(*entry).snapshot(), true
}

// List returns all unexpired senders ordered by address
func (r *Registry) List() []Sender {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := r.cache.Items()
	senders := make([]Sender, 0, len(items))
	for _, item := range items {
		senders = append(senders, item.Object.(*entry).snapshot())
	}

	sort.Slice(senders, func(i, j int) bool {
		return senders[i].Address < senders[j].Address
	})
	return senders
}

// Count returns the number of unexpired senders
func (r *Registry) Count() int {
	return len(r.cache.Items())
}

// Stop forgets every sender
func (r *Registry) Stop() {
	r.cache.Flush()
	r.logger.Info("Sender registry stopped")
}
