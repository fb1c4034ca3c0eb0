package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaggerFindsDomainPhrases(t *testing.T) {
	tagger := NewTagger()

	tags := tagger.Tag("Under Regulation T, the initial margin requirement for equity purchases is 50%. FINRA enforces maintenance margin levels.")
	assert.Contains(t, tags, "margin")
	assert.Contains(t, tags, "finra")
}

func TestTaggerWholeWordMatching(t *testing.T) {
	tagger := NewTagger()

	// "secondary" must not match the "sec" entry.
	tags := tagger.Tag("The secondary offering was announced.")
	assert.NotContains(t, tags, "sec")

	tags = tagger.Tag("The SEC reviewed the filing.")
	assert.Contains(t, tags, "sec")
}

func TestTaggerSortedAndDeduplicated(t *testing.T) {
	tagger := NewTagger()

	tags := tagger.Tag("A put option and a call option share a strike price.")
	assert.Equal(t, []string{"options"}, tags)
}

func TestTaggerNoMatches(t *testing.T) {
	tagger := NewTagger()
	assert.Empty(t, tagger.Tag("Completely unrelated text about gardening."))
}

func TestMergeTags(t *testing.T) {
	merged := MergeTags([]string{"margin", "options"}, []string{"options", "debt"}, nil)
	assert.Equal(t, []string{"debt", "margin", "options"}, merged)

	assert.Nil(t, MergeTags(nil, []string{}))
}

func TestParseDocumentType(t *testing.T) {
	for _, valid := range []string{"textbook", "qa_pair", "regulation"} {
		dt, err := ParseDocumentType(valid)
		assert.NoError(t, err)
		assert.Equal(t, DocumentType(valid), dt)
	}

	_, err := ParseDocumentType("blog_post")
	assert.Error(t, err)
}

func TestChunkIDDeterministic(t *testing.T) {
	a := ChunkID("series7/ch4.md", 0)
	b := ChunkID("series7/ch4.md", 0)
	c := ChunkID("series7/ch4.md", 1)
	d := ChunkID("series7/ch5.md", 0)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 64)
}
