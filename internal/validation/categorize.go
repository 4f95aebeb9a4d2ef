package validation

// Categorize maps a verifier verdict to one of the four categories.
// Catch-all dominates regardless of the valid verdict; every verdict that
// is neither invalid nor valid (unknowns, errors) lands in Risky.
func Categorize(valid, catchAll string) string {
	switch {
	case catchAll == CatchAllYes:
		return CategoryCatchAll
	case valid == ValidNo:
		return CategoryBad
	case valid == ValidYes:
		return CategoryGood
	default:
		return CategoryRisky
	}
}

// CategoryCounts tallies results by category.
type CategoryCounts struct {
	Good     int
	CatchAll int
	Risky    int
	Bad      int
}

// Count tallies the categories of a result slice.
func Count(results []ValidationResult) CategoryCounts {
	var c CategoryCounts
	for _, r := range results {
		switch r.Category {
		case CategoryGood:
			c.Good++
		case CategoryCatchAll:
			c.CatchAll++
		case CategoryRisky:
			c.Risky++
		case CategoryBad:
			c.Bad++
		}
	}
	return c
}
