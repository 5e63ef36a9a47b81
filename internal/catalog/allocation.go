// Package catalog discovers study cases and allocates them to blocks.
package catalog

import (
	"slices"
	"strings"

	"github.com/tphakala/readerstudy/internal/errors"
)

// Allocation splits the case pool into equally composed block parts.
// Every session uses the same parts; only the per-session order differs.
type Allocation struct {
	TotalCases       int        `json:"total_cases"`
	UsableCases      int        `json:"usable_cases"`
	CasesPerBlock    int        `json:"cases_per_block"`
	PositivePerBlock int        `json:"positive_per_block"`
	NegativePerBlock int        `json:"negative_per_block"`
	Blocks           [][]string `json:"blocks"`
}

// Allocate divides positives and negatives evenly across numBlocks parts.
// Each category is de-duplicated and sorted first so the split is
// deterministic; the remainder of each category is left unused.
func Allocate(positive, negative []string, numBlocks int) (*Allocation, error) {
	if numBlocks < 1 {
		return nil, errors.Newf("block count must be positive, got %d", numBlocks).
			Component("catalog").
			Category(errors.CategoryConfiguration).
			Build()
	}

	pos := normalize(positive)
	neg := normalize(negative)
	if err := checkDisjoint(pos, neg); err != nil {
		return nil, err
	}

	posPerBlock := len(pos) / numBlocks
	negPerBlock := len(neg) / numBlocks
	if posPerBlock+negPerBlock == 0 {
		return nil, errors.Newf("case pool too small: %d positive, %d negative for %d blocks", len(pos), len(neg), numBlocks).
			Component("catalog").
			Category(errors.CategoryConfiguration).
			Context("positive", len(pos)).
			Context("negative", len(neg)).
			Build()
	}

	alloc := &Allocation{
		TotalCases:       len(pos) + len(neg),
		UsableCases:      (posPerBlock + negPerBlock) * numBlocks,
		CasesPerBlock:    posPerBlock + negPerBlock,
		PositivePerBlock: posPerBlock,
		NegativePerBlock: negPerBlock,
		Blocks:           make([][]string, numBlocks),
	}

	for i := range numBlocks {
		part := make([]string, 0, alloc.CasesPerBlock)
		part = append(part, pos[i*posPerBlock:(i+1)*posPerBlock]...)
		part = append(part, neg[i*negPerBlock:(i+1)*negPerBlock]...)
		alloc.Blocks[i] = part
	}

	return alloc, nil
}

// CheckDisjoint rejects case IDs listed as both positive and negative.
func CheckDisjoint(positive, negative []string) error {
	return checkDisjoint(normalize(positive), normalize(negative))
}

// checkDisjoint expects both lists normalized.
func checkDisjoint(pos, neg []string) error {
	var overlap []string
	for _, id := range pos {
		if _, found := slices.BinarySearch(neg, id); found {
			overlap = append(overlap, id)
		}
	}
	if len(overlap) == 0 {
		return nil
	}
	return errors.Newf("cases listed as both positive and negative: %s", strings.Join(overlap, ", ")).
		Component("catalog").
		Category(errors.CategoryConfiguration).
		Context("overlap", len(overlap)).
		Build()
}

// normalize returns a sorted copy of ids without blanks or duplicates.
func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
