// Package coalition partitions a roster of same-role agents into groups that
// negotiate together.
package coalition

import (
	"math/rand"
	"slices"
)

// DefaultMaxSize is the largest group formed when no size is given.
const DefaultMaxSize = 3

// Partition is the result of a formation algorithm. Groups hold two or more
// members; Singles are passed through ungrouped.
type Partition[T any] struct {
	Groups  [][]T
	Singles []T
	Value   float64
}

func resolveMaxSize(maxSize, n int) int {
	if maxSize <= 0 {
		return n
	}
	return maxSize
}

// Greedy sorts the roster with cmp and repeatedly slices off up to maxSize
// members while at least two remain. A maxSize of 0 or less means no limit.
func Greedy[T any](members []T, maxSize int, cmp func(a, b T) int) Partition[T] {
	sorted := slices.Clone(members)
	slices.SortStableFunc(sorted, cmp)
	maxSize = resolveMaxSize(maxSize, len(sorted))

	var p Partition[T]
	if maxSize < 2 {
		p.Singles = sorted
		return p
	}
	i := 0
	for len(sorted)-i >= 2 {
		end := min(i+maxSize, len(sorted))
		p.Groups = append(p.Groups, sorted[i:end:end])
		i = end
	}
	p.Singles = sorted[i:]
	return p
}

// Optimal finds the value-maximising split of the roster, in its given
// order, into contiguous blocks of at most maxSize members. Single-member
// blocks are worth nothing; larger blocks are worth value(block). On ties
// the smaller trailing block found first is kept.
//
// dp[i] is the best total for the first i members and size[i] the length of
// the last block in that solution; value is called O(n·maxSize) times.
func Optimal[T any](members []T, maxSize int, value func([]T) float64) Partition[T] {
	n := len(members)
	maxSize = resolveMaxSize(maxSize, n)

	dp := make([]float64, n+1)
	size := make([]int, n+1)
	for i := 1; i <= n; i++ {
		dp[i] = dp[i-1]
		size[i] = 1
		for j := 2; j <= min(i, maxSize); j++ {
			if v := value(members[i-j:i:i]) + dp[i-j]; v > dp[i] {
				dp[i] = v
				size[i] = j
			}
		}
	}

	var p Partition[T]
	p.Value = dp[n]
	for i := n; i > 0; i -= size[i] {
		block := members[i-size[i] : i : i]
		if len(block) == 1 {
			p.Singles = append(p.Singles, block[0])
		} else {
			p.Groups = append(p.Groups, slices.Clone(block))
		}
	}
	slices.Reverse(p.Groups)
	slices.Reverse(p.Singles)
	return p
}

type pairKey struct{ lo, hi string }

func newPairKey(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// TokenPairs runs a randomised pairing for up to iterations rounds: each
// round shuffles the roster and pairs neighbours, skipping pairs seen in an
// earlier round. With exclusive set, paired members leave the roster so no
// member ends up in two pairs; otherwise pairs may overlap and callers must
// deduplicate.
func TokenPairs[T any](members []T, iterations int, rng *rand.Rand, id func(T) string, exclusive bool) [][]T {
	roster := slices.Clone(members)
	seen := make(map[pairKey]struct{})
	var pairs [][]T

	for it := 0; it < iterations && len(roster) >= 2; it++ {
		rng.Shuffle(len(roster), func(i, j int) { roster[i], roster[j] = roster[j], roster[i] })

		paired := make(map[string]struct{})
		for i := 0; i+1 < len(roster); i += 2 {
			a, b := roster[i], roster[i+1]
			key := newPairKey(id(a), id(b))
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			pairs = append(pairs, []T{a, b})
			paired[id(a)] = struct{}{}
			paired[id(b)] = struct{}{}
		}

		if exclusive {
			roster = slices.DeleteFunc(roster, func(m T) bool {
				_, ok := paired[id(m)]
				return ok
			})
		}
	}
	return pairs
}
