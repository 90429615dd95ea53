/*
 * ProcessCache: a process-global bound on how many fast-import
 * children may be alive at once, LRU by most-recent touch. Grounded
 * on original_source/src/repository.cpp's ProcessCache (a bespoke
 * QLinkedList), reimplemented on top of the real ecosystem LRU library
 * gitlab-org/gitaly wires for its own bounded caches
 * (github.com/hashicorp/golang-lru), rather than hand-rolling a linked
 * list -- see DESIGN.md.
 *
 * Copyright by Eric S. Raymond
 * SPDX-License-Identifier: BSD-2-Clause
 */
package export

import (
	lru "github.com/hashicorp/golang-lru"
)

// MaxSimultaneousProcesses is the default cap on live fast-import
// children across every repository sharing a ProcessCache.
const MaxSimultaneousProcesses = 100

// cacheable is what ProcessCache evicts: anything with a graceful
// shutdown method. Repository implements this via its channel.
type cacheable interface {
	closeFastImport()
}

// ProcessCache bounds the number of live channels. touch(repo) is
// called every time a Repository is about to write to (or spawn) its
// channel; if this pushes the live set over the cap, the
// least-recently-touched repository is closed first.
type ProcessCache struct {
	cache *lru.Cache
}

// NewProcessCache builds a cache with the given capacity. A capacity
// of 0 or less uses MaxSimultaneousProcesses.
func NewProcessCache(capacity int) *ProcessCache {
	if capacity <= 0 {
		capacity = MaxSimultaneousProcesses
	}
	c, err := lru.NewWithEvict(capacity, func(key interface{}, value interface{}) {
		if victim, ok := value.(cacheable); ok {
			victim.closeFastImport()
		}
	})
	if err != nil {
		// Only returns an error for capacity <= 0, which we've
		// already excluded.
		panic(err)
	}
	return &ProcessCache{cache: c}
}

// Touch marks repo (keyed by name) as most-recently used, evicting the
// least-recently used entry first if the cache is at capacity.
func (p *ProcessCache) Touch(name string, repo cacheable) {
	p.cache.Add(name, repo)
}

// Remove drops repo from the cache. The underlying LRU still invokes
// the eviction callback on an explicit Remove, so closeFastImport must
// be (and is) idempotent -- a repository that removes itself after
// already closing its own channel just closes an already-closed one.
func (p *ProcessCache) Remove(name string) {
	p.cache.Remove(name)
}

// Len reports how many channels are currently tracked as live.
func (p *ProcessCache) Len() int {
	return p.cache.Len()
}
