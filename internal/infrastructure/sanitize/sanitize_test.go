package sanitize

import (
	"math"
	"strings"
	"testing"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageStripsMarkup(t *testing.T) {
	cases := map[string]string{
		"hello":                               "hello",
		"  padded  ":                          "padded",
		"<b>bold</b> move":                    "bold move",
		"a < b && c > d":                      "a < b && c > d",
		"hi <script>alert(1)</script>there":   "hi there",
		"&lt;script&gt;alert(1)&lt;/script&gt;x": "x",
		`<img src=x onerror="alert(1)">pic`:   "pic",
	}

	for in, want := range cases {
		got, err := Message(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.NotContains(t, got, "<script")
	}
}

func TestMessageRejects(t *testing.T) {
	_, err := Message("")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Message("   ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Message("<script>only()</script>")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Message(strings.Repeat("a", domain.MaxMessageLength+1))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "text", verr.Field)

	// length counts characters, not bytes
	ok, err := Message(strings.Repeat("é", domain.MaxMessageLength))
	require.NoError(t, err)
	assert.Len(t, []rune(ok), domain.MaxMessageLength)

	_, err = Message("bad\x00byte")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCommentLimit(t *testing.T) {
	_, err := Comment(strings.Repeat("x", domain.MaxCommentLength+1))
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := Comment("nice panel")
	require.NoError(t, err)
	assert.Equal(t, "nice panel", got)
}

func TestEmoji(t *testing.T) {
	got, err := Emoji("👍")
	require.NoError(t, err)
	assert.Equal(t, "👍", got)

	// heart without the presentation selector is accepted in canonical form
	got, err = Emoji("\u2764")
	require.NoError(t, err)
	assert.Equal(t, "\u2764\ufe0f", got)

	_, err = Emoji("🍕")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = Emoji("")
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Len(t, AllowedEmoji(), 10)
}

func TestCoordinates(t *testing.T) {
	assert.NoError(t, Coordinates(0, 100))
	assert.NoError(t, Coordinates(55.5, 12))

	var verr *domain.ValidationError
	require.ErrorAs(t, Coordinates(101, 5), &verr)
	assert.Equal(t, "xPercent", verr.Field)
	require.ErrorAs(t, Coordinates(5, -0.1), &verr)
	assert.Equal(t, "yPercent", verr.Field)
	assert.Error(t, Coordinates(math.NaN(), 1))
}

func TestIdentifiers(t *testing.T) {
	assert.NoError(t, MessageID("0b7e4c1a-8f2d-4c55-9d1e-2f9a0c6b1e77"))
	assert.Error(t, MessageID(""))
	assert.Error(t, MessageID("has space"))

	assert.NoError(t, PageID("chapter-1/page-3"))
	assert.Error(t, PageID(strings.Repeat("p", MaxPageIDLength+1)))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ann", DisplayName(" <i>Ann</i> ", "u1"))
	assert.Equal(t, "u1", DisplayName("", "u1"))
	assert.Len(t, []rune(DisplayName(strings.Repeat("n", 50), "u1")), MaxDisplayNameLength)
}

func TestPosition(t *testing.T) {
	assert.NoError(t, Position(4200, 3))
	assert.ErrorIs(t, Position(-1, 0), domain.ErrValidation)
	assert.ErrorIs(t, Position(1, -1), domain.ErrValidation)
	assert.ErrorIs(t, Position(math.Inf(1), 0), domain.ErrValidation)
}
