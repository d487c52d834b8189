package registry

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// OtherCategory is assigned to services no keyword group claims.
const OtherCategory = "other"

// Category represents a group of related services
type Category struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
}

// Entry is the searchable summary of one service.
type Entry struct {
	Alias       string
	Name        string
	Category    string
	Description string
}

// Registry categorizes services by alias keywords. It holds no catalog state;
// lookups go through an Index built from one fetch.
type Registry struct {
	categories []Category
}

// NewRegistry creates a registry with the default categories
func NewRegistry() *Registry {
	return &Registry{categories: defaultCategories()}
}

// Categorize matches the lowercased alias against each category's keywords in
// order. The first category with a matching keyword wins.
func (r *Registry) Categorize(alias string) string {
	a := strings.ToLower(alias)
	for _, cat := range r.categories {
		for _, kw := range cat.Keywords {
			if strings.Contains(a, kw) {
				return cat.Name
			}
		}
	}
	return OtherCategory
}

// Index is a read-only, searchable snapshot of one catalog fetch.
type Index struct {
	reg     *Registry
	entries map[string]Entry
}

// Index builds a snapshot from entries. Entries without an alias are dropped
// and missing categories are derived from the alias.
func (r *Registry) Index(entries []Entry) *Index {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if e.Alias == "" {
			continue
		}
		if e.Category == "" {
			e.Category = r.Categorize(e.Alias)
		}
		m[e.Alias] = e
	}
	return &Index{reg: r, entries: m}
}

// Get returns an entry by alias
func (ix *Index) Get(alias string) (Entry, bool) {
	e, ok := ix.entries[alias]
	return e, ok
}

// Len returns the number of indexed entries
func (ix *Index) Len() int { return len(ix.entries) }

// Search ranks entries against the query, optionally within one category.
func (ix *Index) Search(query string, category string, limit int) []Entry {
	if limit <= 0 {
		limit = 10
	}
	query = strings.ToLower(strings.TrimSpace(query))

	type scored struct {
		entry Entry
		score int
	}
	var results []scored

	for alias, e := range ix.entries {
		if category != "" && !strings.EqualFold(e.Category, category) {
			continue
		}
		if query == "" {
			results = append(results, scored{e, 1})
			continue
		}
		if score := ix.score(query, strings.ToLower(alias), e); score > 0 {
			results = append(results, scored{e, score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].entry.Alias < results[j].entry.Alias
	})

	out := make([]Entry, 0, limit)
	for i := 0; i < len(results) && i < limit; i++ {
		out = append(out, results[i].entry)
	}
	return out
}

func (ix *Index) score(query, alias string, e Entry) int {
	score := 0
	if strings.Contains(alias, query) {
		score += 100
	}
	if strings.Contains(query, alias) {
		score += 60
	}
	if fuzzy.Match(query, alias) {
		score += 50
	} else if d := fuzzy.LevenshteinDistance(query, alias); d <= len(query)/3 {
		score += 40 - d
	}
	if strings.Contains(strings.ToLower(e.Name), query) {
		score += 30
	}
	if strings.Contains(strings.ToLower(e.Description), query) {
		score += 10
	}
	for _, cat := range ix.reg.categories {
		if cat.Name != e.Category {
			continue
		}
		for _, kw := range cat.Keywords {
			if strings.Contains(query, kw) {
				score += 20
			}
		}
	}
	return score
}

// Suggest returns up to limit aliases close to query.
func (ix *Index) Suggest(query string, limit int) []string {
	var out []string
	for _, e := range ix.Search(query, "", limit) {
		out = append(out, e.Alias)
	}
	return out
}

// ListCategories returns all categories in precedence order
func (r *Registry) ListCategories() []Category {
	return r.categories
}

func defaultCategories() []Category {
	return []Category{
		{
			Name:        "audio",
			Description: "Speech recognition and audio models",
			Keywords:    []string{"whisper", "audio", "voice"},
		},
		{
			Name:        "image",
			Description: "Image generation and upscaling",
			Keywords:    []string{"flux", "sdxl", "stable", "image", "upscale"},
		},
		{
			Name:        "text",
			Description: "Language models and chat",
			Keywords:    []string{"llama", "llm", "text", "chat", "mistral"},
		},
		{
			Name:        "video",
			Description: "Video generation",
			Keywords:    []string{"video"},
		},
	}
}
