package device

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device record management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups — the
// identity resolver and polling coordinator hit GetByFingerprint/GetByIP on
// every discovery cycle.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Record // Cached records by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Record),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all records from the repository into the cache.
// This should be called on application startup, before the migration engine
// and coordinator loops run.
func (r *Registry) RefreshCache(ctx context.Context) error {
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading device records: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Record, len(records))
	for i := range records {
		rec := records[i]
		r.cache[rec.ID] = rec.Clone()
	}

	r.logger.Info("device record cache refreshed", "count", len(records))
	return nil
}

// Get retrieves a record by ID.
// Returns ErrNotFound if the record does not exist.
// The returned record is a copy; callers can safely modify it.
func (r *Registry) Get(ctx context.Context, id string) (*Record, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.Clone(), nil
	}

	// Fall back to repository (might be a new record not yet cached)
	rec, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = rec.Clone()
	r.cacheMu.Unlock()

	return rec, nil
}

// List retrieves all records.
// The returned records are copies; callers can safely modify them.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	r.cacheMu.RLock()
	if len(r.cache) > 0 {
		records := make([]Record, 0, len(r.cache))
		for _, rec := range r.cache {
			records = append(records, *rec.Clone())
		}
		r.cacheMu.RUnlock()
		return records, nil
	}
	r.cacheMu.RUnlock()

	return r.repo.List(ctx)
}

// GetByFingerprint returns the record whose fingerprint matches fp, or
// ErrNotFound. Exact fingerprint match is the primary identity signal for
// resolution and IP recovery.
func (r *Registry) GetByFingerprint(fp Fingerprint) (*Record, error) {
	if fp.Empty() {
		return nil, ErrNotFound
	}

	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	for _, rec := range r.cache {
		if rec.Fingerprint.Matches(fp) {
			return rec.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// GetByIP returns the record currently stored at the given network address,
// or ErrNotFound. Used for legacy matching when no fingerprint is available.
func (r *Registry) GetByIP(ip string) (*Record, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	for _, rec := range r.cache {
		if rec.IP == ip {
			return rec.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// Create inserts a new record and caches it.
func (r *Registry) Create(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, rec); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[rec.ID] = rec.Clone()
	r.cacheMu.Unlock()

	r.logger.Debug("device record created", "device_id", rec.ID, "ip", rec.IP, "protocol", rec.Protocol)
	return nil
}

// Update modifies an existing record and refreshes the cache entry.
func (r *Registry) Update(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, rec); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[rec.ID] = rec.Clone()
	r.cacheMu.Unlock()

	return nil
}

// UpdateIP updates a record's network address in the repository and cache.
// Called by the polling coordinator when IP recovery finds the device at a
// new address.
func (r *Registry) UpdateIP(ctx context.Context, id, ip string) error {
	if err := r.repo.UpdateIP(ctx, id, ip); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if rec, ok := r.cache[id]; ok {
		rec.IP = ip
	}
	r.cacheMu.Unlock()

	r.logger.Info("device record ip updated", "device_id", id, "ip", ip)
	return nil
}

// Delete removes a record. Removal is a caller decision; the core never
// calls this on its own.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	return nil
}

// Count returns the number of cached records.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
