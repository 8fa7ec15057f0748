package engine

import (
	"slices"
	"sort"
	"sync"

	"github.com/graphql-go/graphql/language/ast"

	"github.com/roach88/subdispatch/internal/ir"
	"github.com/roach88/subdispatch/internal/queryir"
)

// Key addresses one subscription entry.
type Key struct {
	Category  string
	Namespace string
	Hash      string
}

// Entry is one distinct (query, variables) subscription under a
// (category, namespace) pair.
//
// All fields are immutable after insertion. The subscriber set is owned by
// the Registry and read through Registry.Subscribers.
type Entry struct {
	Key

	// Query is the document text the hash was computed over.
	Query string

	// Document is the parsed and validated query.
	Document *ast.Document

	Variables map[string]any

	// Fields are the top-level subscription fields the document selects.
	Fields []queryir.Field

	seq         int64
	subscribers []ir.Subscriber
	members     map[ir.Subscriber]struct{}
}

// Registry is the de-duplicated index of active subscriptions:
// category -> namespace -> hash -> entry.
//
// INVARIANT: every map level is non-empty. An entry is deleted when its
// last subscriber leaves; an emptied namespace or category is deleted with
// it.
//
// Thread-safety: one RWMutex serializes mutations; readers get copies.
type Registry struct {
	mu    sync.RWMutex
	index map[string]map[string]map[string]*Entry
	seq   int64
	size  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]map[string]map[string]*Entry)}
}

// attach adds ref to the entry at key.
//
// When no entry exists and created is non-nil, created is inserted first.
// Returns false, leaving the registry untouched, when no entry exists and
// none was supplied. Adding a ref already present is a no-op.
func (r *Registry) attach(key Key, ref ir.Subscriber, created *Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.lookupLocked(key)
	if e == nil {
		if created == nil {
			return false
		}
		e = created
		e.Key = key
		r.seq++
		e.seq = r.seq
		e.members = make(map[ir.Subscriber]struct{})
		r.insertLocked(e)
	}

	if _, ok := e.members[ref]; !ok {
		e.members[ref] = struct{}{}
		e.subscribers = append(e.subscribers, ref)
	}
	return true
}

// detach removes ref from the entry at key and cascades deletion of empty
// levels. Returns whether ref was removed.
func (r *Registry) detach(key Key, ref ir.Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.lookupLocked(key)
	if e == nil {
		return false
	}
	if _, ok := e.members[ref]; !ok {
		return false
	}

	delete(e.members, ref)
	if i := slices.Index(e.subscribers, ref); i >= 0 {
		e.subscribers = slices.Delete(e.subscribers, i, i+1)
	}

	if len(e.members) == 0 {
		r.deleteLocked(key)
	}
	return true
}

func (r *Registry) insertLocked(e *Entry) {
	namespaces, ok := r.index[e.Category]
	if !ok {
		namespaces = make(map[string]map[string]*Entry)
		r.index[e.Category] = namespaces
	}
	hashes, ok := namespaces[e.Namespace]
	if !ok {
		hashes = make(map[string]*Entry)
		namespaces[e.Namespace] = hashes
	}
	hashes[e.Hash] = e
	r.size++
}

func (r *Registry) deleteLocked(key Key) {
	namespaces := r.index[key.Category]
	hashes := namespaces[key.Namespace]

	delete(hashes, key.Hash)
	r.size--

	if len(hashes) == 0 {
		delete(namespaces, key.Namespace)
	}
	if len(namespaces) == 0 {
		delete(r.index, key.Category)
	}
}

func (r *Registry) lookupLocked(key Key) *Entry {
	return r.index[key.Category][key.Namespace][key.Hash]
}

// Lookup returns the entry at key.
func (r *Registry) Lookup(key Key) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.lookupLocked(key)
	return e, e != nil
}

// Subscribers returns a copy of the subscriber set at key in insertion
// order. Returns an empty, non-nil slice when the entry no longer exists.
func (r *Registry) Subscribers(key Key) []ir.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.lookupLocked(key)
	if e == nil {
		return []ir.Subscriber{}
	}
	return slices.Clone(e.subscribers)
}

// Snapshot returns the entries registered under (category, namespace),
// ordered by creation. Later subscribes and unsubscribes do not affect
// the returned slice.
func (r *Registry) Snapshot(category, namespace string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hashes := r.index[category][namespace]
	if len(hashes) == 0 {
		return nil
	}

	entries := make([]*Entry, 0, len(hashes))
	for _, e := range hashes {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Categories returns the categories with at least one entry, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ir.SortedKeys(r.index)
}

// Namespaces returns the namespaces of category with at least one entry,
// sorted.
func (r *Registry) Namespaces(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	namespaces, ok := r.index[category]
	if !ok {
		return nil
	}
	return ir.SortedKeys(namespaces)
}

// HasCategory reports whether category has any entry.
func (r *Registry) HasCategory(category string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[category]
	return ok
}

// HasNamespace reports whether (category, namespace) has any entry.
func (r *Registry) HasNamespace(category, namespace string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[category][namespace]
	return ok
}
