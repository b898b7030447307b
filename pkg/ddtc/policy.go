package ddtc

import (
	"math"
	"math/rand"
)

// localityBaseScore mirrors the teacher's replicaBaseScore: the weight given
// to agreement at the most significant attribute key when scoring distinct
// placement candidates.
const localityBaseScore = float64(100)

// Policy is the replication policy abstraction consumed by the team builder.
// The builder never inspects a concrete policy; it only calls AttributeKeys
// and SelectReplicas. Concrete policies are plugged in by configuration.
type Policy interface {
	// AttributeKeys names the locality attributes this policy cares about,
	// most significant first.
	AttributeKeys() []string
	// SelectReplicas chooses count additional localities, consistent with
	// forced (already-chosen entries that must remain part of the result),
	// out of candidates, appending the winners to out. Returns an error if
	// fewer than count policy-satisfying candidates exist.
	SelectReplicas(forced []Locality, candidates []Locality, out *[]Locality, count int) error
}

// AcrossZones requires every chosen locality to have a distinct zone id.
type AcrossZones struct{}

func (AcrossZones) AttributeKeys() []string { return []string{LocalityZone} }

func (p AcrossZones) SelectReplicas(forced, candidates []Locality, out *[]Locality, count int) error {
	return selectDistinct(p.AttributeKeys(), forced, candidates, out, count)
}

// AcrossDatacenters requires every chosen locality to have a distinct
// datacenter id; zone is a secondary tiebreak so that, all else equal,
// candidates in distinct zones are preferred within a datacenter.
type AcrossDatacenters struct{}

func (AcrossDatacenters) AttributeKeys() []string {
	return []string{LocalityDatacenter, LocalityZone}
}

func (p AcrossDatacenters) SelectReplicas(forced, candidates []Locality, out *[]Locality, count int) error {
	return selectDistinct(p.AttributeKeys(), forced, candidates, out, count)
}

// AndPolicy composes policies: AttributeKeys returns the union,
// most-significant-first, of its children, and SelectReplicas runs
// selectDistinct over that union. Only the first key of the union is held
// pairwise distinct; the remaining keys only rank candidates.
type AndPolicy struct {
	Policies []Policy
}

func (p AndPolicy) AttributeKeys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, sub := range p.Policies {
		for _, k := range sub.AttributeKeys() {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func (p AndPolicy) SelectReplicas(forced, candidates []Locality, out *[]Locality, count int) error {
	return selectDistinct(p.AttributeKeys(), forced, candidates, out, count)
}

// selectDistinct greedily extends out with candidates whose value for
// labels[0] differs from that of every entry already in forced/out (a
// candidate without that label is only kept apart from identical
// localities), ranking them with getDistinctScore over all labels the way
// the teacher's replicaChecker does, until count entries have been added or
// candidates are exhausted.
func selectDistinct(labels []string, forced, candidates []Locality, out *[]Locality, count int) error {
	chosen := make([]Locality, 0, len(forced)+count)
	chosen = append(chosen, forced...)

	remaining := count
	pool := append([]Locality(nil), candidates...)
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	for remaining > 0 {
		best := -1
		bestScore := -1.0
		for i, cand := range pool {
			if containsLocality(chosen, cand) {
				continue
			}
			if len(labels) > 0 {
				if v, ok := cand.Get(labels[0]); ok && v != "" {
					clash := false
					for _, c := range chosen {
						if cv, _ := c.Get(labels[0]); cv == v {
							clash = true
							break
						}
					}
					if clash {
						continue
					}
				}
			}
			score := getDistinctScore(labels, chosen, cand)
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if best == -1 {
			return ErrInsufficientMachines
		}
		chosen = append(chosen, pool[best])
		*out = append(*out, pool[best])
		pool = append(pool[:best], pool[best+1:]...)
		remaining--
	}
	return nil
}

func containsLocality(set []Locality, l Locality) bool {
	for _, s := range set {
		if localityEqual(s, l) {
			return true
		}
	}
	return false
}

func localityEqual(a, b Locality) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// getDistinctScore returns how distinct candidate is from the already-chosen
// set, under labels (most significant first). A higher score means more
// distinct. Generalized from the teacher's Cfg.getDistinctScore, which
// operates on *ContainerRuntime; here it operates directly on Locality.
func getDistinctScore(labels []string, chosen []Locality, candidate Locality) float64 {
	score := float64(0)
	for _, c := range chosen {
		if index := compareLocation(c, candidate, labels); index != -1 {
			score += math.Pow(localityBaseScore, float64(len(labels)-index-1))
		}
	}
	return score
}
