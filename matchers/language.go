package matchers

import (
	"github.com/pemistahl/lingua-go"
)

var defaultLanguages = []lingua.Language{
	lingua.English,
	lingua.German,
	lingua.French,
	lingua.Spanish,
	lingua.Italian,
	lingua.Dutch,
	lingua.Portuguese,
}

// LanguageDetector tags snapshot text with its most likely language.
type LanguageDetector struct {
	detector lingua.LanguageDetector
}

func NewLanguageDetector(languages ...lingua.Language) *LanguageDetector {
	if len(languages) < 2 {
		languages = defaultLanguages
	}

	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(languages...).
		Build()

	return &LanguageDetector{detector: detector}
}

// Detect returns the language name for an HTML snapshot, or "" when it is ambiguous.
func (d *LanguageDetector) Detect(html string) string {
	text := NormalizeText(html)
	if text == "" {
		return ""
	}

	language, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}

	return language.String()
}
