package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jinford/hybrid-rag/internal/core/collection"
)

func TestFormatContext(t *testing.T) {
	items := []ResultItem{
		{Content: "Expense reports are due within 30 days.", Metadata: collection.Metadata{Source: "data/policy.txt", Title: "policy"}},
		{Content: "The cat sat on the mat.", Metadata: collection.Metadata{Source: "data/cats.txt", Title: "cats"}},
	}

	got := FormatContext(items)
	want := "--- Document 1 ---\nExpense reports are due within 30 days.\nMetadata: {\"source\":\"data/policy.txt\",\"title\":\"policy\"}" +
		"\n\n" +
		"--- Document 2 ---\nThe cat sat on the mat.\nMetadata: {\"source\":\"data/cats.txt\",\"title\":\"cats\"}"
	assert.Equal(t, want, got)
}

func TestFormatContext_Empty(t *testing.T) {
	assert.Equal(t, "", FormatContext(nil))
}
