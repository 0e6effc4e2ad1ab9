package models

import (
	"cmp"
	"slices"
	"time"
)

// Run tracks every taxonomy entry discovered for one tenant/engagement pair.
// Version is bumped on every tree write and used for compare-and-swap updates.
type Run struct {
	RunID        string       `json:"runId"`
	TenantID     string       `json:"tenantId"`
	EngagementID string       `json:"engagementId"`
	Tree         MetadataTree `json:"tree"`
	Version      int64        `json:"version"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// MetadataTree maps (year, quarter) to sub-categories and their owners.
type MetadataTree struct {
	Periods []YearQuarter `json:"periods"`
}

// YearQuarter is one period bucket of the tree.
type YearQuarter struct {
	Year          int           `json:"year"`
	Quarter       string        `json:"quarter"`
	SubCategories []SubCategory `json:"subCategories"`
}

// SubCategory groups owners inside a period.
type SubCategory struct {
	Name   string  `json:"name"`
	Owners []Owner `json:"owners"`
}

// Owner is a leaf of the tree. DocRunID is fixed by the first merge that
// recorded the owner.
type Owner struct {
	Name     string `json:"name"`
	DocRunID string `json:"docRunId"`
}

// MetadataEntry is one flattened (year, quarter, sub-category, owner) fact.
type MetadataEntry struct {
	Year        int    `json:"year"`
	Quarter     string `json:"quarter"`
	SubCategory string `json:"subCategory"`
	Owner       string `json:"owner"`
	DocRunID    string `json:"docRunId"`
}

// Merge folds entries into the tree and returns how many owners were added.
// An owner that is already present keeps its DocRunID; merging it again is a no-op.
func (t *MetadataTree) Merge(entries ...MetadataEntry) int {
	added := 0
	for _, e := range entries {
		yq := t.ensurePeriod(e.Year, e.Quarter)
		sc := yq.ensureSubCategory(e.SubCategory)
		if slices.ContainsFunc(sc.Owners, func(o Owner) bool { return o.Name == e.Owner }) {
			continue
		}
		sc.Owners = append(sc.Owners, Owner{Name: e.Owner, DocRunID: e.DocRunID})
		added++
	}
	return added
}

func (t *MetadataTree) ensurePeriod(year int, quarter string) *YearQuarter {
	for i := range t.Periods {
		if t.Periods[i].Year == year && t.Periods[i].Quarter == quarter {
			return &t.Periods[i]
		}
	}
	t.Periods = append(t.Periods, YearQuarter{Year: year, Quarter: quarter})
	return &t.Periods[len(t.Periods)-1]
}

func (yq *YearQuarter) ensureSubCategory(name string) *SubCategory {
	for i := range yq.SubCategories {
		if yq.SubCategories[i].Name == name {
			return &yq.SubCategories[i]
		}
	}
	yq.SubCategories = append(yq.SubCategories, SubCategory{Name: name})
	return &yq.SubCategories[len(yq.SubCategories)-1]
}

// Period returns the bucket for (year, quarter) if one was recorded.
func (t MetadataTree) Period(year int, quarter string) (YearQuarter, bool) {
	for _, yq := range t.Periods {
		if yq.Year == year && yq.Quarter == quarter {
			return yq, true
		}
	}
	return YearQuarter{}, false
}

// Entries flattens one period of the tree.
func (t MetadataTree) Entries(year int, quarter string) []MetadataEntry {
	yq, ok := t.Period(year, quarter)
	if !ok {
		return nil
	}
	return yq.entries()
}

// AllEntries flattens the whole tree.
func (t MetadataTree) AllEntries() []MetadataEntry {
	var out []MetadataEntry
	for _, yq := range t.Periods {
		out = append(out, yq.entries()...)
	}
	return out
}

func (yq YearQuarter) entries() []MetadataEntry {
	var out []MetadataEntry
	for _, sc := range yq.SubCategories {
		for _, o := range sc.Owners {
			out = append(out, MetadataEntry{
				Year:        yq.Year,
				Quarter:     yq.Quarter,
				SubCategory: sc.Name,
				Owner:       o.Name,
				DocRunID:    o.DocRunID,
			})
		}
	}
	return out
}

// Equal reports whether both trees hold the same facts, ignoring order.
func (t MetadataTree) Equal(other MetadataTree) bool {
	a, b := t.AllEntries(), other.AllEntries()
	if len(a) != len(b) {
		return false
	}
	slices.SortFunc(a, compareEntries)
	slices.SortFunc(b, compareEntries)
	return slices.Equal(a, b)
}

// Clone returns a deep copy so callers can merge without touching shared state.
func (t MetadataTree) Clone() MetadataTree {
	out := MetadataTree{Periods: make([]YearQuarter, len(t.Periods))}
	for i, yq := range t.Periods {
		cp := YearQuarter{Year: yq.Year, Quarter: yq.Quarter, SubCategories: make([]SubCategory, len(yq.SubCategories))}
		for j, sc := range yq.SubCategories {
			cp.SubCategories[j] = SubCategory{Name: sc.Name, Owners: slices.Clone(sc.Owners)}
		}
		out.Periods[i] = cp
	}
	return out
}

func compareEntries(a, b MetadataEntry) int {
	return cmp.Or(
		cmp.Compare(a.Year, b.Year),
		cmp.Compare(a.Quarter, b.Quarter),
		cmp.Compare(a.SubCategory, b.SubCategory),
		cmp.Compare(a.Owner, b.Owner),
		cmp.Compare(a.DocRunID, b.DocRunID),
	)
}
