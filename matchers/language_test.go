package matchers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLanguageDetector_English(t *testing.T) {
	d := NewLanguageDetector()

	lang := d.Detect("<p>The company confirmed that customer records were exposed during the security incident last week.</p>")

	assert.Equal(t, "English", lang)
}

func TestLanguageDetector_EmptyText(t *testing.T) {
	d := NewLanguageDetector()

	assert.Equal(t, "", d.Detect("<script>var x = 1;</script>"))
}
