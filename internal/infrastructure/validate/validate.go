// package validate
package validate

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	mapset "github.com/deckarep/golang-set/v2"
)

// Validator is a function that validates a string and returns an error if invalid
type Validator func(value string) error

// Compose chains multiple validators, first error wins
func Compose(validators ...Validator) Validator {
	return func(value string) error {
		for _, v := range validators {
			if err := v(value); err != nil {
				return err
			}
		}
		return nil
	}
}

// Required ensures the field is not empty
func Required() Validator {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("is required")
		}
		return nil
	}
}

// MinLength checks minimum length in characters
func MinLength(min int) Validator {
	return func(v string) error {
		if utf8.RuneCountInString(v) < min {
			return fmt.Errorf("must be at least %d characters", min)
		}
		return nil
	}
}

// MaxLength checks maximum length in characters
func MaxLength(max int) Validator {
	return func(v string) error {
		if utf8.RuneCountInString(v) > max {
			return fmt.Errorf("must be no more than %d characters", max)
		}
		return nil
	}
}

// Matches checks if value matches a regex
func Matches(pattern, message string) Validator {
	re := regexp.MustCompile(pattern)
	return func(v string) error {
		if !re.MatchString(v) {
			if message != "" {
				return fmt.Errorf("%s", message)
			}
			return fmt.Errorf("invalid format")
		}
		return nil
	}
}

// OneOf checks if value is in allowed list
func OneOf(allowed ...string) Validator {
	set := mapset.NewThreadUnsafeSet(allowed...)
	return func(v string) error {
		if !set.Contains(v) {
			return fmt.Errorf("must be one of: %s", strings.Join(allowed, " "))
		}
		return nil
	}
}

// NoControl rejects control characters other than newlines and tabs
func NoControl() Validator {
	return func(v string) error {
		for _, r := range v {
			if r == '\n' || r == '\t' || r == '\r' {
				continue
			}
			if r < 0x20 || r == 0x7f {
				return fmt.Errorf("must not contain control characters")
			}
		}
		return nil
	}
}

// Percent checks that a coordinate lies in [0, 100]
func Percent(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return fmt.Errorf("must be between 0 and 100")
	}
	return nil
}

// NonNegativeFinite rejects NaN, infinities and negative values
func NonNegativeFinite(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("must be a non-negative number")
	}
	return nil
}
