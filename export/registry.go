/*
 * Registry: a concurrency-safe repository-name -> *Repository lookup,
 * used to resolve submodule back-references and to let a driver spin
 * up repositories from multiple goroutines. This realizes design note
 * "Global process cache" in spec.md §9: a single owned coordinator
 * passed around explicitly, never a package-level var.
 *
 * Copyright by Eric S. Raymond
 * SPDX-License-Identifier: BSD-2-Clause
 */
package export

import (
	cmap "github.com/orcaman/concurrent-map"
)

// Registry maps repository name to *Repository. A submodule's
// Repository holds only the parent's name plus a *Registry, never a
// direct *Repository pointer -- a non-owning handle by construction,
// so two repositories that submodule-reference each other can never
// form an ownership cycle (see spec.md §9's "Parent/child submodule
// back-reference" design note).
type Registry struct {
	repos cmap.ConcurrentMap
	cache *ProcessCache
}

// NewRegistry builds a Registry sharing one ProcessCache of the given
// capacity across every repository it holds.
func NewRegistry(processCacheCapacity int) *Registry {
	return &Registry{
		repos: cmap.New(),
		cache: NewProcessCache(processCacheCapacity),
	}
}

func (r *Registry) put(name string, repo *Repository) {
	r.repos.Set(name, repo)
}

// Lookup resolves a repository by name, or reports ok=false if none
// has been registered under that name.
func (r *Registry) Lookup(name string) (repo *Repository, ok bool) {
	v, present := r.repos.Get(name)
	if !present {
		return nil, false
	}
	return v.(*Repository), true
}

func (r *Registry) remove(name string) {
	r.repos.Remove(name)
}
