package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	sequencedomain "github.com/smallbiznis/docflow/internal/sequence/domain"
)

var (
	seqPadRe   = regexp.MustCompile(`\{SEQ(\d+)\}`)
	seqTokenRe = regexp.MustCompile(`\{SEQ\d*\}`)
)

// FormatNumber formats a document number from a template, the reference
// date and a sequence value.
//
// Supported tokens: {YYYY} {YY} {MM} {DD} {SEQ} {SEQn}. A sequence wider
// than n is printed in full.
func FormatNumber(template string, date time.Time, seq int64) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", sequencedomain.ErrTemplateMissing
	}

	if seq <= 0 {
		return "", fmt.Errorf("%w: %d", sequencedomain.ErrInvalidSequence, seq)
	}

	out := replaceDateTokens(template, date)

	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))

	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}

		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}

		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("%w: unresolved token in %s", sequencedomain.ErrInvalidTemplate, out)
	}

	return out, nil
}

// Prefix returns the literal text before the sequence token, with date
// tokens resolved. Every number of that period starts with it.
func Prefix(template string, date time.Time) (string, error) {
	loc := seqTokenRe.FindStringIndex(template)
	if loc == nil {
		return "", fmt.Errorf("%w: no sequence token in %q", sequencedomain.ErrInvalidTemplate, template)
	}
	prefix := replaceDateTokens(template[:loc[0]], date)
	if strings.Contains(prefix, "{") || strings.Contains(prefix, "}") {
		return "", fmt.Errorf("%w: unresolved token in %q", sequencedomain.ErrInvalidTemplate, template)
	}
	return prefix, nil
}

// ParseSequence extracts the sequence from a number formatted with
// template for date. ok is false when number does not match the prefix.
func ParseSequence(template string, date time.Time, number string) (int64, bool) {
	prefix, err := Prefix(template, date)
	if err != nil || !strings.HasPrefix(number, prefix) {
		return 0, false
	}
	rest := number[len(prefix):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	seq, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Validate checks that template formats a usable number.
func Validate(template string) error {
	_, err := FormatNumber(template, time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC), 1)
	if err != nil {
		return err
	}
	_, err = Prefix(template, time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC))
	return err
}

func replaceDateTokens(s string, date time.Time) string {
	s = strings.ReplaceAll(s, "{YYYY}", date.Format("2006"))
	s = strings.ReplaceAll(s, "{YY}", date.Format("06"))
	s = strings.ReplaceAll(s, "{MM}", date.Format("01"))
	s = strings.ReplaceAll(s, "{DD}", date.Format("02"))
	return s
}
