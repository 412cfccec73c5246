// Package resolver implements the Instance Resolver + Status Guard —
// spec.md §4.4. It extracts the instance hash from a request, validates its
// format, resolves it to a cached record (falling through to the store on
// a cache miss), and gates access by status.
package resolver

import (
	"regexp"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/shridarpatil/wagateway/internal/apperr"
	"github.com/shridarpatil/wagateway/internal/store"
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

// Resolver caches resolved instance records in memory, falling through to
// the store on a miss — spec.md §4.4.
type Resolver struct {
	st *store.Store

	mu    sync.RWMutex
	cache map[string]*store.Instance

	bloomMu sync.RWMutex
	bloom   *bloom.BloomFilter
}

// New constructs a Resolver and warms its negative-lookup bloom filter
// from the current store contents — SPEC_FULL.md §2 item 15.
func New(st *store.Store) (*Resolver, error) {
	r := &Resolver{
		st:    st,
		cache: make(map[string]*store.Instance),
	}
	if err := r.RefreshBloom(); err != nil {
		return nil, err
	}
	return r, nil
}

// RefreshBloom rebuilds the negative-lookup filter from every hash
// currently in the store. Call after any mutation that adds a hash.
func (r *Resolver) RefreshBloom() error {
	all, err := r.st.All()
	if err != nil {
		return err
	}
	f := bloom.NewWithEstimates(uint(len(all))+64, 0.01)
	for _, inst := range all {
		f.AddString(inst.Hash)
	}
	r.bloomMu.Lock()
	r.bloom = f
	r.bloomMu.Unlock()
	return nil
}

func (r *Resolver) maybeKnown(hash string) bool {
	r.bloomMu.RLock()
	defer r.bloomMu.RUnlock()
	if r.bloom == nil {
		return true
	}
	return r.bloom.TestString(hash)
}

// ExtractHash reads the instance hash from, in order, the x-instance-id
// header, the instance_id body field, the instance_id query param —
// spec.md §4.4.
func ExtractHash(header, body, query string) (string, error) {
	hash := firstNonEmpty(header, body, query)
	if hash == "" {
		return "", apperr.MissingInstanceID
	}
	hash = strings.ToLower(hash)
	if !hashPattern.MatchString(hash) {
		return "", apperr.InvalidInstanceID
	}
	return hash, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Resolve returns the cached or freshly-loaded instance for hash —
// spec.md §4.4.
func (r *Resolver) Resolve(hash string) (*store.Instance, error) {
	r.mu.RLock()
	cached, ok := r.cache[hash]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	// A negative bloom test is authoritative; skip the store round-trip.
	// A positive test may be a false positive, so it still falls through
	// to the store.
	if !r.maybeKnown(hash) {
		return nil, apperr.InstanceNotFound
	}

	inst, err := r.st.FindByHash(hash)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, apperr.InstanceNotFound
	}

	r.mu.Lock()
	r.cache[hash] = inst
	r.mu.Unlock()
	return inst, nil
}

// Invalidate drops hash from the cache, used whenever the store mutates
// the record out from under the resolver (status change, delete, etc).
func (r *Resolver) Invalidate(hash string) {
	r.mu.Lock()
	delete(r.cache, hash)
	r.mu.Unlock()
}

// Accepted status sets — spec.md §4.4 / §9 (both variants kept, selected
// per route by the caller).
var (
	ProxyActiveStatuses = map[string]bool{
		store.StatusActive:    true,
		store.StatusConnected: true,
	}
	LoginActiveStatuses = map[string]bool{
		store.StatusActive:    true,
		store.StatusConnected: true,
		store.StatusWaitingQR: true,
	}
)

// EnsureActive fails with InstanceNotActive unless inst.Status is a member
// of accepted — spec.md §4.4 ensureActive().
func EnsureActive(inst *store.Instance, accepted map[string]bool) error {
	if !accepted[inst.Status] {
		return apperr.InstanceNotActive.WithMessage("instance status is " + inst.Status)
	}
	return nil
}
