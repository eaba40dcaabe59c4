package model

import "time"

// Category represents a product processing category. Classification of an
// item name is immutable: the same name always maps to the same category.
type Category string

const (
	CategoryFresh      Category = "fresh"
	CategorySaltCured  Category = "salt_cured"
	CategoryHotSmoked  Category = "hot_smoked"
	CategoryColdSmoked Category = "cold_smoked"
	CategorySmoked     Category = "smoked"
	CategoryDried      Category = "dried"
)

// AllCategories returns all defined categories.
func AllCategories() []Category {
	return []Category{
		CategoryFresh,
		CategorySaltCured,
		CategoryHotSmoked,
		CategoryColdSmoked,
		CategorySmoked,
		CategoryDried,
	}
}

// Valid reports whether c is one of the defined categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryFresh, CategorySaltCured, CategoryHotSmoked,
		CategoryColdSmoked, CategorySmoked, CategoryDried:
		return true
	}
	return false
}

// Season is a calendar period used for adjustment-factor lookup.
type Season string

const (
	SeasonWinter Season = "winter"
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonAutumn Season = "autumn"
)

// SeasonOf maps a timestamp to its season.
func SeasonOf(t time.Time) Season {
	switch t.Month() {
	case time.December, time.January, time.February:
		return SeasonWinter
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	default:
		return SeasonAutumn
	}
}
