// Package mood labels free text with one of five moods using ordered
// keyword rules.
package mood

import (
	"strings"

	"maaspace/internal/models"
)

// Rule maps a mood to the keywords that trigger it.
type Rule struct {
	Mood     models.Mood
	Keywords []string
}

// Table is an ordered rule list. The first rule with a matching keyword wins.
type Table []Rule

// Default reproduces the keyword lists Maa has always used. Order matters:
// sad outranks angry, angry outranks anxious, anxious outranks happy.
var Default = Table{
	{Mood: models.MoodSad, Keywords: []string{"sad", "dukhi", "ro", "cry", "hurt", "pain", "alone", "akeli", "miss", "yaad", "nahi", "bura", "worst", "terrible"}},
	{Mood: models.MoodAngry, Keywords: []string{"angry", "gussa", "irritated", "annoyed", "hate", "nafrat", "stupid", "pagal", "frustrated"}},
	{Mood: models.MoodAnxious, Keywords: []string{"nervous", "anxious", "worried", "scared", "dar", "tension", "stress", "exam", "interview", "afraid"}},
	{Mood: models.MoodHappy, Keywords: []string{"happy", "khush", "amazing", "wonderful", "great", "best", "love", "pyaar", "excited", "yay", "mast", "badhiya"}},
}

// Order is the fixed evaluation order used when building a table from
// configuration.
var Order = []models.Mood{models.MoodSad, models.MoodAngry, models.MoodAnxious, models.MoodHappy}

// Classify labels text using the default table.
func Classify(text string) models.Mood {
	return Default.Classify(text)
}

// Classify matches lower-cased text against each rule in order. Matching is
// by substring, so "ro" also fires inside "bro".
func (t Table) Classify(text string) models.Mood {
	if text == "" {
		return models.MoodNeutral
	}
	lower := strings.ToLower(text)
	for _, rule := range t {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, kw) {
				return rule.Mood
			}
		}
	}
	return models.MoodNeutral
}

// FromConfig builds a table from keyword overrides keyed by mood label.
// Moods missing from overrides keep their default keywords.
func FromConfig(overrides map[string][]string) Table {
	if len(overrides) == 0 {
		return Default
	}
	table := make(Table, 0, len(Order))
	for i, m := range Order {
		keywords := Default[i].Keywords
		if custom, ok := overrides[string(m)]; ok {
			keywords = make([]string, 0, len(custom))
			for _, kw := range custom {
				if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
					keywords = append(keywords, kw)
				}
			}
		}
		table = append(table, Rule{Mood: m, Keywords: keywords})
	}
	return table
}

// Parse normalises a provider supplied label. Unknown or empty labels are
// neutral.
func Parse(label string) models.Mood {
	switch m := models.Mood(strings.ToLower(strings.TrimSpace(label))); m {
	case models.MoodHappy, models.MoodSad, models.MoodAngry, models.MoodAnxious:
		return m
	}
	return models.MoodNeutral
}
