package ddtc

import (
	"sort"
	"sync"
)

// ExclusionController maintains the exclusion map (§3) from the system
// keyspace's excluded-address and failed-address lists (§6) and the wiggle
// controller's marks, using priority FAILED > EXCLUDED > WIGGLING > NONE and
// never overwriting a WIGGLING entry with NONE from the excluded-list pass
// (§4.6). The excluded- and failed-locality lists are not applied, and the
// wiggling pid is read by WiggleController, not here.
type ExclusionController struct {
	mu      sync.RWMutex
	entries map[string]ExclusionStatus

	// healthyZoneID and healthyZoneExpiry implement the "ignore storage
	// failures" maintenance zone (§4.4, §9 overload): while set and not
	// expired, HealthyZone both suppresses isFailed for servers in the zone
	// and disables the region's DD loop entirely (the overload the spec
	// flags rather than splits).
	healthyZoneID     string
	healthyZoneExpiry uint64
}

// NewExclusionController returns an empty controller.
func NewExclusionController() *ExclusionController {
	return &ExclusionController{entries: make(map[string]ExclusionStatus)}
}

// Status returns the current exclusion status for a canonical address
// (invariant 6: exclusion keys use canonical (ip, port) form; callers are
// responsible for canonicalizing before calling in).
func (c *ExclusionController) Status(addr string) ExclusionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[addr]
}

// ApplyExcludedList merges the excluded-addresses list read from the system
// keyspace. Per §4.6, this pass never downgrades a WIGGLING entry to NONE:
// addresses in the list are raised to EXCLUDED (unless already FAILED);
// addresses previously EXCLUDED but no longer in the list drop to NONE,
// unless they are WIGGLING.
func (c *ExclusionController) ApplyExcludedList(addrs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	want := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		want[a] = true
		c.raiseLocked(a, ExclusionExcluded)
	}
	for addr, status := range c.entries {
		if status == ExclusionExcluded && !want[addr] {
			c.entries[addr] = ExclusionNone
		}
	}
	c.pruneNoneLocked()
}

// ApplyFailedList merges the failed-addresses list; FAILED always wins.
func (c *ExclusionController) ApplyFailedList(addrs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	want := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		want[a] = true
		c.raiseLocked(a, ExclusionFailed)
	}
	for addr, status := range c.entries {
		if status == ExclusionFailed && !want[addr] {
			c.entries[addr] = ExclusionNone
		}
	}
	c.pruneNoneLocked()
}

// SetWiggling marks addr WIGGLING, the wiggle controller's own pass (§4.6).
// FAILED still outranks it.
func (c *ExclusionController) SetWiggling(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raiseLocked(addr, ExclusionWiggling)
}

// ClearWiggling drops addr's WIGGLING entry back to NONE, unless it has
// since been raised to EXCLUDED or FAILED by a keyspace pass.
func (c *ExclusionController) ClearWiggling(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[addr] == ExclusionWiggling {
		delete(c.entries, addr)
	}
}

// raiseLocked sets addr's status to status unless its current status
// already outranks it (FAILED > EXCLUDED > WIGGLING > NONE).
func (c *ExclusionController) raiseLocked(addr string, status ExclusionStatus) {
	if higherExclusionPriority(c.entries[addr], status) {
		return
	}
	c.entries[addr] = status
}

func (c *ExclusionController) pruneNoneLocked() {
	for addr, status := range c.entries {
		if status == ExclusionNone {
			delete(c.entries, addr)
		}
	}
}

// Snapshot returns a defensive copy of the full exclusion map, used by the
// debug snapshot endpoint (SUPPLEMENTED FEATURES #3).
func (c *ExclusionController) Snapshot() map[string]ExclusionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]ExclusionStatus, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// SetHealthyZone sets the maintenance zone that forces isFailed=false for
// servers within it and disables the region's DD loop until expiryVersion
// (§4.4, §9). Passing zone=="" clears it.
func (c *ExclusionController) SetHealthyZone(zone string, expiryVersion uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthyZoneID = zone
	c.healthyZoneExpiry = expiryVersion
}

// HealthyZone reports the currently configured maintenance zone and its
// expiry version. A zero expiry means no zone is set.
func (c *ExclusionController) HealthyZone() (zone string, expiryVersion uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthyZoneID, c.healthyZoneExpiry
}

// InMaintenanceZone reports whether locality's zone attribute matches the
// currently configured healthy zone, given the current keyspace version.
// Used as the maintenanceZone predicate handed to each ServerTracker.
func (c *ExclusionController) InMaintenanceZone(locality Locality, currentVersion uint64) bool {
	zone, expiry := c.HealthyZone()
	if zone == "" || currentVersion >= expiry {
		return false
	}
	z, _ := locality.Get(LocalityZone)
	return z == zone
}

// DDLoopDisabled implements the overloaded half of the healthy-zone
// maintenance flag (§9 open question: the spec keeps both behaviors and
// flags the overload rather than splitting it): while a healthy zone is
// active, the whole region's DD loop is disabled, not just isFailed
// suppression for servers inside it.
func (c *ExclusionController) DDLoopDisabled(currentVersion uint64) bool {
	_, expiry := c.HealthyZone()
	return expiry != 0 && currentVersion < expiry
}

// sortedEntries is a small helper for deterministic debug output.
func (c *ExclusionController) sortedEntries() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
