package schema

import "fmt"

// PlatformID is the numeric identifier for an execution venue. IDs start at 1
// and double as bit positions in CompactSignal.PlatformMask, so at most 8
// platforms can be registered.
type PlatformID uint8

// SourceID is the numeric identifier for a data source. IDs start at 1 and
// double as bit positions in CompactSignal.SourceMask, so at most 32 sources
// can be registered.
type SourceID uint8

const (
	maxPlatforms = 8
	maxSources   = 32
)

// Platform describes an execution venue eligible to receive signals.
type Platform struct {
	ID   PlatformID
	Name string
}

// Source describes an upstream analysis source contributing to signals.
type Source struct {
	ID   SourceID
	Name string
}

// Registry stores platform and source mappings in a compact form.
type Registry struct {
	platforms      []Platform
	sources        []Source
	platformByName map[string]PlatformID
	sourceByName   map[string]SourceID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		platformByName: make(map[string]PlatformID),
		sourceByName:   make(map[string]SourceID),
	}
}

// AddPlatform registers a new platform and returns its ID.
func (r *Registry) AddPlatform(name string) (PlatformID, error) {
	if name == "" {
		return 0, fmt.Errorf("platform name is empty")
	}
	if id, ok := r.platformByName[name]; ok {
		return id, fmt.Errorf("platform already exists: %s", name)
	}
	if len(r.platforms) >= maxPlatforms {
		return 0, fmt.Errorf("platform limit reached: %d", maxPlatforms)
	}
	id := PlatformID(len(r.platforms) + 1)
	r.platforms = append(r.platforms, Platform{ID: id, Name: name})
	r.platformByName[name] = id
	return id, nil
}

// AddSource registers a new source and returns its ID.
func (r *Registry) AddSource(name string) (SourceID, error) {
	if name == "" {
		return 0, fmt.Errorf("source name is empty")
	}
	if id, ok := r.sourceByName[name]; ok {
		return id, fmt.Errorf("source already exists: %s", name)
	}
	if len(r.sources) >= maxSources {
		return 0, fmt.Errorf("source limit reached: %d", maxSources)
	}
	id := SourceID(len(r.sources) + 1)
	r.sources = append(r.sources, Source{ID: id, Name: name})
	r.sourceByName[name] = id
	return id, nil
}

// Platform returns the platform by ID.
func (r *Registry) Platform(id PlatformID) (Platform, bool) {
	if id == 0 || int(id) > len(r.platforms) {
		return Platform{}, false
	}
	return r.platforms[id-1], true
}

// Source returns the source by ID.
func (r *Registry) Source(id SourceID) (Source, bool) {
	if id == 0 || int(id) > len(r.sources) {
		return Source{}, false
	}
	return r.sources[id-1], true
}

// PlatformIDByName returns the platform ID for a name.
func (r *Registry) PlatformIDByName(name string) (PlatformID, bool) {
	id, ok := r.platformByName[name]
	return id, ok
}

// SourceIDByName returns the source ID for a name.
func (r *Registry) SourceIDByName(name string) (SourceID, bool) {
	id, ok := r.sourceByName[name]
	return id, ok
}

// PlatformBit returns the PlatformMask bit for a platform ID.
func PlatformBit(id PlatformID) uint8 {
	if id == 0 || id > maxPlatforms {
		return 0
	}
	return 1 << (id - 1)
}

// SourceBit returns the SourceMask bit for a source ID.
func SourceBit(id SourceID) uint32 {
	if id == 0 || id > maxSources {
		return 0
	}
	return 1 << (id - 1)
}

// SourceMask builds a source bitmask from registered source names. Unknown
// names are ignored.
func (r *Registry) SourceMask(names []string) uint32 {
	var mask uint32
	for _, name := range names {
		if id, ok := r.sourceByName[name]; ok {
			mask |= SourceBit(id)
		}
	}
	return mask
}

// SourceCount returns the number of distinct sources set in a mask.
func SourceCount(mask uint32) int {
	count := 0
	for mask != 0 {
		mask &= mask - 1
		count++
	}
	return count
}
