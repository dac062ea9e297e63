package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"voiceloom/internal/services"
)

// supported lists the languages the synthesis and translation backends
// accept. The matcher resolves regional variants onto these bases.
var supported = []language.Tag{
	language.English,
	language.Spanish,
	language.French,
	language.German,
	language.Italian,
	language.Portuguese,
	language.Japanese,
	language.Korean,
	language.Chinese,
	language.Russian,
	language.Arabic,
	language.Hindi,
	language.Dutch,
	language.Polish,
	language.Swedish,
	language.Turkish,
}

var matcher = language.NewMatcher(supported)

// Normalize parses a user-supplied language identifier (BCP-47 tag, ISO
// code, or regional variant) and maps it onto a supported base language.
func Normalize(code string) (string, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "", services.Wrap(services.ErrValidation, "language", "normalize",
			"language code is empty", nil)
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "language", "normalize",
			"unrecognized language code "+trimmed, err)
	}
	_, index, confidence := matcher.Match(tag)
	if confidence == language.No {
		return "", services.Wrap(services.ErrValidation, "language", "normalize",
			"unsupported language "+trimmed, nil)
	}
	base, _ := supported[index].Base()
	return base.String(), nil
}

// IsSupported reports whether a language identifier maps onto a supported
// base language.
func IsSupported(code string) bool {
	_, err := Normalize(code)
	return err == nil
}

// DisplayName returns the English display name of a language identifier,
// or the input unchanged when it cannot be parsed.
func DisplayName(code string) string {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return code
	}
	return display.English.Tags().Name(tag)
}

// ValidatePair checks a dubbing source/target pair: both must be
// supported and distinct.
func ValidatePair(source, target string) (string, string, error) {
	src, err := Normalize(source)
	if err != nil {
		return "", "", err
	}
	dst, err := Normalize(target)
	if err != nil {
		return "", "", err
	}
	if src == dst {
		return "", "", services.Wrap(services.ErrValidation, "language", "validate_pair",
			"source and target language are the same", nil)
	}
	return src, dst, nil
}
