// Package phpmsg parses and rebuilds PHP localization lines of the form
//
//	$msg_arr['key'] = 'value';
//
// A line either matches one of the two anchored patterns below exactly, in
// which case its literal body can be extracted for translation, or it is
// opaque and must pass through byte-for-byte. The transform pipeline is
// Classify → Prepare → Protect → (translate) → Restore → Reescape, and the
// round trip Reescape(Prepare(raw)) == raw holds for every matched line.
package phpmsg

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// QuoteKind identifies which quote character delimits the literal.
type QuoteKind byte

const (
	QuoteSingle QuoteKind = '\''
	QuoteDouble QuoteKind = '"'
)

var (
	singleQuoteRe = regexp.MustCompile(`^(\s*\$msg_arr\[.*?\]\s*=\s*')((?:[^'\\]|\\.)*)(';\s*;?\s*)$`)
	doubleQuoteRe = regexp.MustCompile(`^(\s*\$msg_arr\[.*?\]\s*=\s*")((?:[^"\\]|\\.)*)(";?\s*;?\s*)$`)

	// placeholderRe matches interpolation slots like {user} or {count_2}
	// that must survive translation verbatim.
	placeholderRe = regexp.MustCompile(`\{[A-Za-z_][A-Za-z0-9_]*\}`)
)

// Match holds the three spans of a translatable line. RawLiteral is the text
// between the quotes with the script's escapes still applied.
type Match struct {
	Prefix     string
	RawLiteral string
	Suffix     string
	Quote      QuoteKind
}

// Classify tries the single-quoted pattern first, then the double-quoted one.
// The line must already be stripped of its trailing newline. Returns nil for
// opaque lines.
func Classify(line string) *Match {
	if m := singleQuoteRe.FindStringSubmatch(line); m != nil {
		return &Match{Prefix: m[1], RawLiteral: m[2], Suffix: m[3], Quote: QuoteSingle}
	}
	if m := doubleQuoteRe.FindStringSubmatch(line); m != nil {
		return &Match{Prefix: m[1], RawLiteral: m[2], Suffix: m[3], Quote: QuoteDouble}
	}
	return nil
}

// IsTranslatable reports whether the line matches either pattern.
func IsTranslatable(line string) bool {
	return singleQuoteRe.MatchString(line) || doubleQuoteRe.MatchString(line)
}

// Prepare strips the script's own escape conventions so the translator sees
// natural text. Single quotes: \' → ' and \\ → \. Double quotes: \" → ".
// No other transformations.
func Prepare(raw string, quote QuoteKind) string {
	if quote == QuoteSingle {
		raw = strings.ReplaceAll(raw, `\'`, `'`)
		return strings.ReplaceAll(raw, `\\`, `\`)
	}
	return strings.ReplaceAll(raw, `\"`, `"`)
}

// Reescape reapplies the script's escapes after translation. The order
// matters for single quotes: backslashes first, then quotes, so an escaped
// quote does not get its backslash doubled.
func Reescape(text string, quote QuoteKind) string {
	if quote == QuoteSingle {
		text = strings.ReplaceAll(text, `\`, `\\`)
		return strings.ReplaceAll(text, `'`, `\'`)
	}
	return strings.ReplaceAll(text, `"`, `\"`)
}

// PlaceholderMap maps opaque tokens (__PH0__, __PH1__, ...) back to the
// original placeholder text, casing and braces preserved. Tokens are
// numbered by first occurrence and unique within one literal.
type PlaceholderMap map[string]string

// Protect replaces every {identifier} placeholder with an opaque token so
// translation providers leave it alone.
func Protect(text string) (string, PlaceholderMap) {
	mapping := PlaceholderMap{}
	n := 0
	protected := placeholderRe.ReplaceAllStringFunc(text, func(ph string) string {
		token := fmt.Sprintf("__PH%d__", n)
		mapping[token] = ph
		n++
		return token
	})
	return protected, mapping
}

// Restore substitutes every opaque token back to its original placeholder.
func Restore(text string, mapping PlaceholderMap) string {
	for token, original := range mapping {
		text = strings.ReplaceAll(text, token, original)
	}
	return text
}

// Placeholders returns all {identifier} tokens found in text, in order.
func Placeholders(text string) []string {
	return placeholderRe.FindAllString(text, -1)
}

// CountStrings counts translatable lines in a file. Used for the cheap
// pre-count that makes job progress meaningful before any translation
// starts. Read errors count as zero.
func CountStrings(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	count := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if IsTranslatable(sc.Text()) {
			count++
		}
	}
	return count
}
