package catalogue

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/composer/model"
)

// snapshot is an immutable set of catalogues indexed by application id.
type snapshot struct {
	apps     map[int64]*model.Catalogue
	checksum string
}

// Registry is a read-optimized, thread-safe store of loaded catalogues.
// Reads are lock-free; Replace swaps the whole snapshot.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given catalogues.
func NewRegistry(cats []model.Catalogue) *Registry {
	r := &Registry{}
	r.Replace(cats)
	return r
}

// Replace atomically swaps the registry contents. A later catalogue for the
// same application replaces an earlier one.
func (r *Registry) Replace(cats []model.Catalogue) {
	s := &snapshot{apps: make(map[int64]*model.Catalogue, len(cats))}

	var checksumParts []string
	for i := range cats {
		cat := cats[i]
		s.apps[cat.Application.ID] = &cat
		checksumParts = append(checksumParts, cat.Checksum)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the catalogue of an application.
func (r *Registry) Get(appID int64) (*model.Catalogue, bool) {
	c, ok := r.current().apps[appID]
	return c, ok
}

// Metadata returns the catalogue of an application, or a NOT_FOUND envelope
// when the application is unknown.
func (r *Registry) Metadata(_ context.Context, appID int64) (*model.Catalogue, error) {
	c, ok := r.Get(appID)
	if !ok {
		return nil, model.NewNotFoundError("application " + strconv.FormatInt(appID, 10) + " has no catalogue")
	}
	return c, nil
}

// Applications returns every loaded application ordered by id.
func (r *Registry) Applications() []model.Application {
	s := r.current()
	apps := make([]model.Application, 0, len(s.apps))
	for _, c := range s.apps {
		apps = append(apps, c.Application)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].ID < apps[j].ID })
	return apps
}

// Len returns the number of loaded catalogues.
func (r *Registry) Len() int {
	return len(r.current().apps)
}

// Checksum returns the combined checksum of all loaded catalogues.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
