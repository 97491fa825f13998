package categorizing

import "strings"

// Category is one of a fixed set of expense categories
type Category string

const (
	Dining         Category = "Dining"
	Travel         Category = "Travel"
	Software       Category = "Software"
	OfficeSupplies Category = "Office Supplies"
	Marketing      Category = "Marketing"
	Other          Category = "Other"
)

// Categories lists every valid category in display order
var Categories = []Category{Dining, Travel, Software, OfficeSupplies, Marketing, Other}

// Parse matches s against the known categories, ignoring case and surrounding
// whitespace or quotes.
func Parse(s string) (Category, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"'.`)
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return "", false
}

// names joins the categories for prompts
func names() string {
	parts := make([]string, len(Categories))
	for i, c := range Categories {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
