// internal/domain/pickup/category.go
package pickup

import (
	"fmt"
	"regexp"
	"strings"
)

// Category is the waste category of a pickup event.
type Category string

const (
	CategoryResidual  Category = "residual"
	CategoryBio       Category = "bio"
	CategoryPaper     Category = "paper"
	CategoryRecycling Category = "recycling"
	CategorySpecial   Category = "special"
)

// Categories lists every known category in display order.
var Categories = []Category{CategoryResidual, CategoryBio, CategoryPaper, CategoryRecycling, CategorySpecial}

// DisplayName returns the German bin name shown to users.
func (c Category) DisplayName() string {
	switch c {
	case CategoryResidual:
		return "Restabfall"
	case CategoryBio:
		return "Bioabfall"
	case CategoryPaper:
		return "Papier"
	case CategoryRecycling:
		return "Gelbe Tonne"
	case CategorySpecial:
		return "Sonderabholung"
	default:
		return string(c)
	}
}

func (c Category) Emoji() string {
	switch c {
	case CategoryResidual:
		return "⚫"
	case CategoryBio:
		return "🟢"
	case CategoryPaper:
		return "🔵"
	case CategoryRecycling:
		return "🟡"
	default:
		return "🗑️"
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// categoryPatterns is the controlled vocabulary of calendar titles.
// Order matters: the first matching pattern wins.
var categoryPatterns = []struct {
	pattern  *regexp.Regexp
	category Category
}{
	{regexp.MustCompile(`(?i)weihnachtsb(a|ä)um|schadstoff|sperrm(ü|ue)ll`), CategorySpecial},
	{regexp.MustCompile(`(?i)bio[-\s]?(tonne|abfall|m(ü|ue)ll)`), CategoryBio},
	{regexp.MustCompile(`(?i)gelbe[-\s]?tonne|gelber[-\s]?sack|leichtverpackung`), CategoryRecycling},
	{regexp.MustCompile(`(?i)(papier|blaue)[-\s]?tonne|altpapier`), CategoryPaper},
	{regexp.MustCompile(`(?i)rest[-\s]?(tonne|abfall|m(ü|ue)ll)`), CategoryResidual},
}

// UnknownCategoryError is returned when no pattern recognises an event title.
type UnknownCategoryError struct {
	Title string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown waste category for title %q", e.Title)
}

func (e *UnknownCategoryError) Unwrap() error { return ErrUnknownCategory }

// Classify maps an event title to a category. Texts are tried in order, so
// callers pass the summary first and the description as a fallback.
func Classify(texts ...string) (Category, error) {
	title := ""
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if title == "" {
			title = text
		}
		for _, p := range categoryPatterns {
			if p.pattern.MatchString(text) {
				return p.category, nil
			}
		}
	}
	return "", &UnknownCategoryError{Title: title}
}
