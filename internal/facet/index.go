// Package facet builds the filter index of a store workbook and decides
// which rows a job processes.
package facet

import (
	"slices"

	"github.com/sells-group/maplink/internal/model"
	"github.com/sells-group/maplink/internal/sheet"
)

// Index is the immutable set of facet combinations of one document.
type Index struct {
	totalRows int
	facets    []model.FacetCombination
}

type facetKey struct {
	project, province, district, survey string
}

// Build scans rows once and counts each distinct (project, province,
// district, survey) tuple among rows carrying a primary identifier.
// Facets keep the order in which they were first seen.
func Build(rows []sheet.SourceRow) *Index {
	pos := make(map[facetKey]int)
	idx := &Index{}
	for _, r := range rows {
		if !r.Valid() {
			continue
		}
		idx.totalRows++
		k := facetKey{r.Project, r.Province, r.District, r.SurveyFacet()}
		if i, ok := pos[k]; ok {
			idx.facets[i].Count++
			continue
		}
		pos[k] = len(idx.facets)
		idx.facets = append(idx.facets, model.FacetCombination{
			Project:  k.project,
			Province: k.province,
			District: k.district,
			Survey:   k.survey,
			Count:    1,
		})
	}
	return idx
}

// TotalRows returns the number of valid rows scanned.
func (x *Index) TotalRows() int { return x.totalRows }

// Facets returns a copy of the facet combinations.
func (x *Index) Facets() []model.FacetCombination {
	return slices.Clone(x.facets)
}

// ScanResult is the payload returned to callers presenting filter choices.
type ScanResult struct {
	TotalRows  int                      `json:"totalRows"`
	FilterData []model.FacetCombination `json:"filterData"`
}

// Result packages the index for transport.
func (x *Index) Result() ScanResult {
	data := x.Facets()
	if data == nil {
		data = []model.FacetCombination{}
	}
	return ScanResult{TotalRows: x.totalRows, FilterData: data}
}

// Projects returns the distinct project codes.
func (x *Index) Projects() []string {
	return x.distinct(func(f model.FacetCombination) string { return f.Project }, "", "", "")
}

// Provinces returns the distinct provinces among facets of project.
// An empty argument matches any value.
func (x *Index) Provinces(project string) []string {
	return x.distinct(func(f model.FacetCombination) string { return f.Province }, project, "", "")
}

// Districts returns the distinct districts among facets matching project
// and province.
func (x *Index) Districts(project, province string) []string {
	return x.distinct(func(f model.FacetCombination) string { return f.District }, project, province, "")
}

// Surveys returns the distinct survey values among facets matching project,
// province and district.
func (x *Index) Surveys(project, province, district string) []string {
	return x.distinct(func(f model.FacetCombination) string { return f.Survey }, project, province, district)
}

func (x *Index) distinct(field func(model.FacetCombination) string, project, province, district string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, f := range x.facets {
		if project != "" && f.Project != project {
			continue
		}
		if province != "" && f.Province != province {
			continue
		}
		if district != "" && f.District != district {
			continue
		}
		v := field(f)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// UniqueValues is the reduced scan view: sorted distinct values per field
// with no counts and no cascading.
type UniqueValues struct {
	Projects  []string `json:"projects"`
	Provinces []string `json:"provinces"`
	Districts []string `json:"districts"`
	Surveys   []string `json:"surveys"`
}

// Unique returns the reduced view for clients that cannot consume facets.
func (x *Index) Unique() UniqueValues {
	return UniqueValues{
		Projects:  x.Projects(),
		Provinces: x.Provinces(""),
		Districts: x.Districts("", ""),
		Surveys:   x.Surveys("", "", ""),
	}
}
