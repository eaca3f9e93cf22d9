package conceptnet

// RegistryEntry is one URI to ID mapping held by a Registry. Symmetric is only
// meaningful for the relation registry.
type RegistryEntry struct {
	ID        int64
	URI       string
	Symmetric bool
}

type registryValue struct {
	id        int64
	symmetric bool
}

// Registry deduplicates URIs and hands out monotonically increasing IDs in
// first-sighting order. Entries allocated since the last DrainPending are
// tracked so they can be written before anything that references them.
//
// A Registry is owned by a single ingestion run and is not safe for
// concurrent use.
type Registry struct {
	entries map[string]registryValue
	pending []RegistryEntry
	nextID  int64
}

// NewRegistry creates an empty registry whose first allocated ID is firstID.
func NewRegistry(firstID int64) *Registry {
	if firstID < 1 {
		firstID = 1
	}
	return &Registry{
		entries: make(map[string]registryValue),
		nextID:  firstID,
	}
}

// Resolve returns the ID for uri, allocating the next ID if uri has not been
// seen before.
func (r *Registry) Resolve(uri string) int64 {
	id, _ := r.resolve(uri, false)
	return id
}

// ResolveRelation works like Resolve but classifies the relation on first
// sighting. The returned topology is the one stored with the entry, so it
// never changes once decided.
func (r *Registry) ResolveRelation(uri string) (int64, bool) {
	return r.resolve(uri, IsSymmetricRelation(uri))
}

func (r *Registry) resolve(uri string, symmetric bool) (int64, bool) {
	if v, ok := r.entries[uri]; ok {
		return v.id, v.symmetric
	}

	id := r.nextID
	r.nextID++
	r.entries[uri] = registryValue{id: id, symmetric: symmetric}
	r.pending = append(r.pending, RegistryEntry{ID: id, URI: uri, Symmetric: symmetric})
	return id, symmetric
}

// Restore records an entry that already exists in storage. Restored entries
// are never pending, and the allocator moves past their ID so it is not
// handed out again.
func (r *Registry) Restore(e RegistryEntry) {
	r.entries[e.URI] = registryValue{id: e.ID, symmetric: e.Symmetric}
	if e.ID >= r.nextID {
		r.nextID = e.ID + 1
	}
}

// Lookup returns the entry for uri without allocating.
func (r *Registry) Lookup(uri string) (RegistryEntry, bool) {
	v, ok := r.entries[uri]
	if !ok {
		return RegistryEntry{}, false
	}
	return RegistryEntry{ID: v.id, URI: uri, Symmetric: v.symmetric}, true
}

// DrainPending returns the entries allocated since the previous call, in
// allocation order, and clears them.
func (r *Registry) DrainPending() []RegistryEntry {
	if len(r.pending) == 0 {
		return nil
	}
	out := r.pending
	r.pending = nil
	return out
}

// PendingCount returns the number of entries not yet drained.
func (r *Registry) PendingCount() int {
	return len(r.pending)
}

// Len returns the number of known URIs.
func (r *Registry) Len() int {
	return len(r.entries)
}

// NextID returns the ID the next unseen URI will receive.
func (r *Registry) NextID() int64 {
	return r.nextID
}

// Registries groups the three identity registries of an ingestion run.
type Registries struct {
	Nodes     *Registry
	Relations *Registry
	Sources   *Registry
}

// NewRegistries creates an empty registry set starting at ID 1.
func NewRegistries() *Registries {
	return &Registries{
		Nodes:     NewRegistry(1),
		Relations: NewRegistry(1),
		Sources:   NewRegistry(1),
	}
}

// HasPending reports whether any registry holds entries that still need to be written.
func (r *Registries) HasPending() bool {
	return r.Nodes.PendingCount() > 0 || r.Relations.PendingCount() > 0 || r.Sources.PendingCount() > 0
}
