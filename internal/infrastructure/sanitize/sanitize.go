// Package sanitize cleans and checks user supplied text before it is relayed
// or stored.
package sanitize

import (
	"html"
	"strings"
	"unicode/utf8"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/validate"
	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxDisplayNameLength = 32
	MaxPageIDLength      = 128
	MaxMessageIDLength   = 64

	variationSelector = "\ufe0f"
)

var (
	strictPolicy = bluemonday.StrictPolicy()

	// keyed without the emoji presentation selector, valued with it
	allowedEmoji = map[string]string{}
	emojiSet     = mapset.NewSet[string]()

	identifierRule = validate.Compose(
		validate.Required(),
		validate.MaxLength(MaxMessageIDLength),
		validate.Matches(`^[A-Za-z0-9_-]+$`, "must contain only letters, digits, '_' and '-'"),
	)
	pageIDRule = validate.Compose(
		validate.Required(),
		validate.MaxLength(MaxPageIDLength),
		validate.NoControl(),
	)
)

func init() {
	for _, e := range []string{"👍", "\u2764\ufe0f", "😂", "😮", "😢", "😡", "🔥", "🎉", "👏", "🤔"} {
		allowedEmoji[strings.ReplaceAll(e, variationSelector, "")] = e
		emojiSet.Add(e)
	}
}

// AllowedEmoji lists the reaction whitelist.
func AllowedEmoji() []string {
	return emojiSet.ToSlice()
}

// StripMarkup removes every tag, and the content of script-like elements,
// until no markup remains. Entities are decoded so plain text stays plain.
func StripMarkup(s string) string {
	for i := 0; i < 3; i++ {
		out := html.UnescapeString(strictPolicy.Sanitize(s))
		if out == s {
			return out
		}
		s = out
	}
	return strictPolicy.Sanitize(s)
}

// Message validates and cleans chat text. Overlong input is rejected before
// any sanitization work.
func Message(text string) (string, error) {
	return boundedText("text", text, domain.MaxMessageLength)
}

// Comment validates and cleans panel comment text.
func Comment(text string) (string, error) {
	return boundedText("text", text, domain.MaxCommentLength)
}

func boundedText(field, text string, max int) (string, error) {
	if !utf8.ValidString(text) {
		return "", domain.NewValidationError(field, "must be valid UTF-8")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.NewValidationError(field, "is required")
	}
	if utf8.RuneCountInString(text) > max {
		return "", domain.NewValidationError(field, "is too long")
	}
	if err := validate.NoControl()(text); err != nil {
		return "", domain.NewValidationError(field, err.Error())
	}

	clean := strings.TrimSpace(StripMarkup(text))
	if clean == "" {
		return "", domain.NewValidationError(field, "is empty after removing markup")
	}
	return clean, nil
}

// Emoji returns the canonical whitelisted form of e.
func Emoji(e string) (string, error) {
	canonical, ok := allowedEmoji[strings.ReplaceAll(strings.TrimSpace(e), variationSelector, "")]
	if !ok {
		return "", domain.NewValidationError("emoji", "is not an allowed reaction")
	}
	return canonical, nil
}

func Coordinates(x, y float64) error {
	if err := validate.Percent(x); err != nil {
		return domain.NewValidationError("xPercent", err.Error())
	}
	if err := validate.Percent(y); err != nil {
		return domain.NewValidationError("yPercent", err.Error())
	}
	return nil
}

func MessageID(id string) error {
	if err := identifierRule(id); err != nil {
		return domain.NewValidationError("messageId", err.Error())
	}
	return nil
}

func PageID(id string) error {
	if err := pageIDRule(id); err != nil {
		return domain.NewValidationError("pageId", err.Error())
	}
	return nil
}

// DisplayName trims and strips markup from a name claimed by a credential.
// Empty names fall back to the user id.
func DisplayName(name, fallback string) string {
	name = strings.TrimSpace(StripMarkup(name))
	if name == "" {
		name = fallback
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		name = string([]rune(name)[:MaxDisplayNameLength])
	}
	return name
}

// Position checks a scroll position and page index pair.
func Position(position float64, pageIndex int) error {
	if err := validate.NonNegativeFinite(position); err != nil {
		return domain.NewValidationError("position", err.Error())
	}
	if pageIndex < 0 {
		return domain.NewValidationError("pageIndex", "must not be negative")
	}
	return nil
}
