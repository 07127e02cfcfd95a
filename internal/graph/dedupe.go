package graph

import (
	"sort"
	"strings"

	"github.com/doxa-graph/doxa/internal/model"
)

// dedupeKey normalizes a label for exact-match deduplication:
// lower-cased with runs of whitespace collapsed. Two claims differing
// only by case or repeated whitespace are the same entity.
func dedupeKey(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// mergeDedupe drops later duplicates (first-seen wins), sorts the
// survivors by verification confidence descending, and keeps the top
// maxClaims. Failed and unverified nodes sort with confidence 0.
func mergeDedupe(nodes []*model.ClaimNode, maxClaims int) []*model.ClaimNode {
	seen := make(map[string]bool)
	unique := make([]*model.ClaimNode, 0, len(nodes))
	for _, node := range nodes {
		key := dedupeKey(node.Label)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, node)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Confidence() > unique[j].Confidence()
	})

	if maxClaims > 0 && len(unique) > maxClaims {
		unique = unique[:maxClaims]
	}
	return unique
}
