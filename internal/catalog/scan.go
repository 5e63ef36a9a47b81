package catalog

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/tphakala/readerstudy/internal/errors"
)

// Category is the ground-truth class of a case.
type Category string

const (
	CategoryPositive Category = "positive"
	CategoryNegative Category = "negative"
)

// Case is a discovered baseline/follow-up volume pair.
type Case struct {
	ID           string   `json:"case_id"`
	Category     Category `json:"category"`
	BaselinePath string   `json:"baseline_path"`
	FollowupPath string   `json:"followup_path"`
}

// Dataset holds the complete cases found on disk.
type Dataset struct {
	Positive []Case `json:"positive"`
	Negative []Case `json:"negative"`
}

// IDs returns the case IDs of each category.
func (d *Dataset) IDs() (positive, negative []string) {
	for _, c := range d.Positive {
		positive = append(positive, c.ID)
	}
	for _, c := range d.Negative {
		negative = append(negative, c.ID)
	}
	return positive, negative
}

var (
	// {prefix}_{yyyymmdd}_{baseline|followup}_0000.nii.gz
	positivePattern = regexp.MustCompile(`^(.+)_\d{8}_(baseline|followup)_0000\.nii\.gz$`)
	// {prefix}_{yyyymmdd}_{baseline|followup}.nii.gz
	negativePattern = regexp.MustCompile(`^(.+)_\d{8}_(baseline|followup)\.nii\.gz$`)
)

// positiveIDPrefix keeps positive IDs distinct from negatives with the same stem.
const positiveIDPrefix = "pos_"

// ScanDataset lists complete cases in the two folders. A folder that does not
// exist yields no cases; an empty path skips that category.
func ScanDataset(positiveDir, negativeDir string) (*Dataset, error) {
	pos, err := scanFolder(positiveDir, positivePattern, positiveIDPrefix, CategoryPositive)
	if err != nil {
		return nil, err
	}
	neg, err := scanFolder(negativeDir, negativePattern, "", CategoryNegative)
	if err != nil {
		return nil, err
	}
	return &Dataset{Positive: pos, Negative: neg}, nil
}

// scanFolder matches file names in dir and keeps cases having both series.
func scanFolder(dir string, pattern *regexp.Regexp, idPrefix string, category Category) ([]Case, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.New(fmt.Errorf("failed to read dataset folder: %w", err)).
			Component("catalog").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}

	pairs := make(map[string]*Case)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		m := pattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}

		id := idPrefix + m[1]
		c, ok := pairs[id]
		if !ok {
			c = &Case{ID: id, Category: category}
			pairs[id] = c
		}
		path := filepath.Join(dir, entry.Name())
		if m[2] == "baseline" {
			c.BaselinePath = path
		} else {
			c.FollowupPath = path
		}
	}

	cases := make([]Case, 0, len(pairs))
	for _, c := range pairs {
		if c.BaselinePath != "" && c.FollowupPath != "" {
			cases = append(cases, *c)
		}
	}
	slices.SortFunc(cases, func(a, b Case) int {
		return strings.Compare(a.ID, b.ID)
	})
	return cases, nil
}
