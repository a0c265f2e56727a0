// Package flex holds the small shared pieces of the FlexRadio text protocol:
// the word tokenizer used for status and command lines, keyword argument
// lookup, and the fixed-point conversion used by meters.
package flex

import (
	"fmt"
	"math"
	"strings"
)

// SplitWords tokenizes a protocol line into words. Whitespace separates
// words, double and single quotes group them, and inside double quotes the
// escapes \n \r \t \\ \" are honored. Adjacent quoted and unquoted runs
// concatenate into one word.
func SplitWords(line string) ([]string, error) {
	var words []string
	var current strings.Builder
	inWord := false

	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			if inWord {
				words = append(words, current.String())
				current.Reset()
				inWord = false
			}
			i++
		case c == '"':
			inWord = true
			i++
			closed := false
			for i < len(line) {
				if line[i] == '\\' && i+1 < len(line) {
					switch line[i+1] {
					case 'n':
						current.WriteByte('\n')
					case 'r':
						current.WriteByte('\r')
					case 't':
						current.WriteByte('\t')
					case '\\':
						current.WriteByte('\\')
					case '"':
						current.WriteByte('"')
					default:
						current.WriteByte(line[i+1])
					}
					i += 2
					continue
				}
				if line[i] == '"' {
					i++
					closed = true
					break
				}
				current.WriteByte(line[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unbalanced double quote in %q", line)
			}
		case c == '\'':
			inWord = true
			i++
			closed := false
			for i < len(line) {
				if line[i] == '\'' {
					i++
					closed = true
					break
				}
				current.WriteByte(line[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unbalanced single quote in %q", line)
			}
		default:
			inWord = true
			current.WriteByte(c)
			i++
		}
	}
	if inWord {
		words = append(words, current.String())
	}
	return words, nil
}

// FindKeywordArg looks for a "key=value" word and returns its value.
func FindKeywordArg(words []string, key string) (string, bool) {
	for _, word := range words {
		k, v, found := strings.Cut(word, "=")
		if !found {
			continue
		}
		if k == key {
			return v, true
		}
	}
	return "", false
}

// FloatToFixed converts a float into the signed fixed-point representation
// the meter stream uses, with the given number of fractional bits.
func FloatToFixed(value float64, fractionalBits uint) int16 {
	return int16(math.Round(value * float64(uint32(1)<<fractionalBits)))
}
