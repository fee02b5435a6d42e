package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Persister stores published identity versions durably.
type Persister interface {
	SaveIdentities(ctx context.Context, projectID string, version uint64, vectors []Vector) error
	// LoadLatestIdentities returns ErrNotTrained when nothing is persisted for the project.
	LoadLatestIdentities(ctx context.Context, projectID string) (uint64, []Vector, error)
	// LatestIdentityVersion returns 0 when nothing is persisted for the project.
	LatestIdentityVersion(ctx context.Context, projectID string) (uint64, error)
	ListTrainedProjects(ctx context.Context) ([]string, error)
}

// PublishHook is called after a new store becomes current. prev is nil for
// a project's first version.
type PublishHook func(prev, next *Store)

// Catalog holds the current identity store of every project.
type Catalog struct {
	mu       sync.RWMutex
	current  map[string]*Store
	reserved map[string]uint64

	persister Persister
	opts      Options

	hookMu sync.RWMutex
	hooks  []PublishHook
}

// NewCatalog creates a catalog. persister may be nil for in-memory use.
func NewCatalog(persister Persister, opts Options) *Catalog {
	return &Catalog{
		current:   make(map[string]*Store),
		reserved:  make(map[string]uint64),
		persister: persister,
		opts:      opts,
	}
}

// OnPublish registers a hook fired after every successful publish.
func (c *Catalog) OnPublish(h PublishHook) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Current returns the latest published store of a project.
func (c *Catalog) Current(projectID string) (*Store, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.current[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotTrained)
	}
	return s, nil
}

// Projects returns the IDs of all projects with a current store.
func (c *Catalog) Projects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.current))
	for id := range c.current {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Publish builds, persists and installs a new version of a project's
// identities. The previous store stays current until the new one is ready,
// and stays current for good if anything fails. Version numbers continue
// after the latest persisted one, which may come from another process.
func (c *Catalog) Publish(ctx context.Context, projectID string, vectors []Vector) (*Store, error) {
	var persisted uint64
	if c.persister != nil {
		v, err := c.persister.LatestIdentityVersion(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("reading latest identity version for project %s: %w", projectID, err)
		}
		persisted = v
	}
	version := c.reserve(projectID, persisted)

	next, err := Build(projectID, version, vectors, c.opts)
	if err != nil {
		return nil, err
	}

	if c.persister != nil {
		if err := c.persister.SaveIdentities(ctx, projectID, version, next.Vectors()); err != nil {
			return nil, fmt.Errorf("persisting identities for project %s: %w", projectID, err)
		}
	}

	prev, err := c.install(next)
	if err != nil {
		return nil, err
	}
	c.fire(prev, next)
	return next, nil
}

// Restore loads the latest persisted version of every trained project.
// Returns the number of projects restored.
func (c *Catalog) Restore(ctx context.Context) (int, error) {
	if c.persister == nil {
		return 0, nil
	}
	projects, err := c.persister.ListTrainedProjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing trained projects: %w", err)
	}

	restored := 0
	for _, projectID := range projects {
		_, changed, err := c.Reload(ctx, projectID)
		if errors.Is(err, ErrNotTrained) {
			continue
		}
		if err != nil {
			return restored, err
		}
		if changed {
			restored++
		}
	}
	return restored, nil
}

// Reload installs the latest persisted version of a project when it is newer
// than the current one, e.g. after training from another process.
func (c *Catalog) Reload(ctx context.Context, projectID string) (*Store, bool, error) {
	if c.persister == nil {
		s, err := c.Current(projectID)
		return s, false, err
	}

	version, vectors, err := c.persister.LoadLatestIdentities(ctx, projectID)
	if err != nil {
		return nil, false, fmt.Errorf("loading identities for project %s: %w", projectID, err)
	}

	if cur, err := c.Current(projectID); err == nil && cur.Version() >= version {
		return cur, false, nil
	}

	next, err := Build(projectID, version, vectors, c.opts)
	if err != nil {
		return nil, false, fmt.Errorf("rebuilding identities for project %s: %w", projectID, err)
	}

	prev, err := c.install(next)
	if errors.Is(err, ErrSuperseded) {
		cur, curErr := c.Current(projectID)
		return cur, false, curErr
	}
	if err != nil {
		return nil, false, err
	}
	c.fire(prev, next)
	return next, true, nil
}

func (c *Catalog) reserve(projectID string, persisted uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := max(c.reserved[projectID], persisted)
	if cur, ok := c.current[projectID]; ok && cur.Version() > v {
		v = cur.Version()
	}
	v++
	c.reserved[projectID] = v
	return v
}

func (c *Catalog) install(next *Store) (*Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current[next.ProjectID()]
	if prev != nil && prev.Version() >= next.Version() {
		return nil, fmt.Errorf("project %s version %d: %w", next.ProjectID(), next.Version(), ErrSuperseded)
	}
	c.current[next.ProjectID()] = next
	if c.reserved[next.ProjectID()] < next.Version() {
		c.reserved[next.ProjectID()] = next.Version()
	}
	return prev, nil
}

func (c *Catalog) fire(prev, next *Store) {
	c.hookMu.RLock()
	hooks := make([]PublishHook, len(c.hooks))
	copy(hooks, c.hooks)
	c.hookMu.RUnlock()

	for _, h := range hooks {
		h(prev, next)
	}
}
