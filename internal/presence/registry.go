// ABOUTME: Presence registry mapping live connections to authenticated identities
// ABOUTME: One registry per namespace; lookups by connection or by user, roster kept in insertion order

package presence

import (
	"container/list"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// Identity is an authenticated user as seen by the realtime layer.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Entry binds one connection to one identity.
type Entry struct {
	ConnID string
	Identity
}

// Options configures a Registry.
type Options struct {
	// Supersede drops earlier connections of a user when that user registers again.
	Supersede bool
}

// Registry is the single source of truth for who is online in one namespace.
// All methods are safe for concurrent use and never block on I/O.
type Registry struct {
	name      string
	supersede bool

	mu     sync.RWMutex
	byConn map[string]*list.Element // connID -> element holding *Entry
	order  *list.List               // entries in registration order
	byUser map[string][]string      // userID -> connIDs, oldest first
	logger *slog.Logger
}

// NewRegistry creates an empty registry for the named namespace.
func NewRegistry(name string, opts Options, logger *slog.Logger) *Registry {
	return &Registry{
		name:      name,
		supersede: opts.Supersede,
		byConn:    make(map[string]*list.Element),
		order:     list.New(),
		byUser:    make(map[string][]string),
		logger:    logger.With("component", "presence", "namespace", name),
	}
}

// Name returns the namespace this registry tracks.
func (r *Registry) Name() string {
	return r.name
}

// Register associates connID with id. Registering the same pair twice is a no-op.
// When supersede is enabled, other connections of the same user are removed and
// their ids returned so the caller can close them.
func (r *Registry) Register(connID string, id Identity) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.byConn[connID]; ok {
		entry := el.Value.(*Entry)
		if entry.Identity == id {
			return nil
		}
		// Same connection re-registered as someone else: rebind in place.
		r.removeUserConnLocked(entry.UserID, connID)
		entry.Identity = id
	} else {
		r.byConn[connID] = r.order.PushBack(&Entry{ConnID: connID, Identity: id})
	}

	var superseded []string
	if r.supersede {
		for _, old := range r.byUser[id.UserID] {
			if el, ok := r.byConn[old]; ok {
				r.order.Remove(el)
				delete(r.byConn, old)
			}
			superseded = append(superseded, old)
		}
		r.byUser[id.UserID] = nil
	}
	r.byUser[id.UserID] = append(r.byUser[id.UserID], connID)

	r.logger.Debug("registered",
		"conn_id", connID,
		"user_id", id.UserID,
		"superseded", len(superseded),
		"online", r.order.Len(),
	)
	return superseded
}

// Unregister removes the entry for connID. It returns the removed entry and
// whether one existed; unknown ids are ignored.
func (r *Registry) Unregister(connID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.byConn[connID]
	if !ok {
		return Entry{}, false
	}

	entry := r.order.Remove(el).(*Entry)
	delete(r.byConn, connID)
	r.removeUserConnLocked(entry.UserID, connID)

	r.logger.Debug("unregistered", "conn_id", connID, "user_id", entry.UserID, "online", r.order.Len())
	return *entry, true
}

func (r *Registry) removeUserConnLocked(userID, connID string) {
	conns := r.byUser[userID]
	for i, c := range conns {
		if c == connID {
			conns = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return
	}
	r.byUser[userID] = conns
}

// LookupByConnection returns the identity bound to connID.
func (r *Registry) LookupByConnection(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	el, ok := r.byConn[connID]
	if !ok {
		return Identity{}, false
	}
	return el.Value.(*Entry).Identity, true
}

// LookupByIdentity returns the most recently registered connection of userID.
func (r *Registry) LookupByIdentity(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	if len(conns) == 0 {
		return "", false
	}
	return conns[len(conns)-1], true
}

// Resolve returns the most recently registered entry of userID, connection
// and identity read together.
func (r *Registry) Resolve(userID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	if len(conns) == 0 {
		return Entry{}, false
	}
	el, ok := r.byConn[conns[len(conns)-1]]
	if !ok {
		return Entry{}, false
	}
	return *el.Value.(*Entry), true
}

// List returns a snapshot of all entries in registration order.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, r.order.Len())
	for el := r.order.Front(); el != nil; el = el.Next() {
		entries = append(entries, *el.Value.(*Entry))
	}
	return entries
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.order.Len()
}

// Roster returns the online identities in registration order, one per user.
func (r *Registry) Roster() []Identity {
	ids := lo.Map(r.List(), func(e Entry, _ int) Identity { return e.Identity })
	return lo.UniqBy(ids, func(id Identity) string { return id.UserID })
}

// ConnIDs returns the registered connection ids, skipping those in except.
func (r *Registry) ConnIDs(except ...string) []string {
	ids := lo.Map(r.List(), func(e Entry, _ int) string { return e.ConnID })
	return lo.Without(ids, except...)
}
