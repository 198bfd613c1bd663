package scan

import (
	"regexp"

	"github.com/malsift/malsift/pkg/catalog"
)

// Base64 payloads are routinely split across adjacent C string literals
// ("QUJD" "REVG"), often with escape sequences, so a plain regex over the
// raw text misses them. This sub-scan finds runs of adjacent literals,
// decodes their bodies while tracking the original offset of every decoded
// byte, runs the base64 pattern over the decoded text, and maps matches back
// to exact raw-text offsets.

// literalSeqRx matches two or more adjacent string literals (with optional
// encoding prefixes) separated only by whitespace.
var literalSeqRx = regexp.MustCompile(`(?:L|u8|u|U)?\s*"(?:(?:\\.|[^"\\])*)"(?:\s*(?:L|u8|u|U)?\s*"(?:\\.|[^"\\])*")+`)

// literalOneRx matches a single literal within a sequence; group 1 is the
// body between the quotes.
var literalOneRx = regexp.MustCompile(`(?:L|u8|u|U)?\s*"((?:\\.|[^"\\])*)"`)

// decodeLiteral decodes C escape sequences in a literal body. For every
// decoded byte it records the raw-body offset where its source begins
// (starts) and the offset one past where it ends (ends), so both ends of a
// decoded-text match can be mapped back exactly.
//
// Handled escapes: \\ \" \' \n \r \t, \xHH (one or two hex digits), octal
// (one to three digits). A backslash before an unknown character decodes to
// that character; a trailing lone backslash decodes to itself.
func decodeLiteral(raw string) (decoded string, starts, ends []int) {
	var out []byte
	n := len(raw)
	emit := func(b byte, s, e int) {
		out = append(out, b)
		starts = append(starts, s)
		ends = append(ends, e)
	}
	i := 0
	for i < n {
		c := raw[i]
		if c != '\\' {
			emit(c, i, i+1)
			i++
			continue
		}
		if i+1 >= n {
			emit('\\', i, i+1)
			i++
			continue
		}
		next := raw[i+1]
		switch {
		case next == '\\' || next == '"' || next == '\'':
			emit(next, i, i+2)
			i += 2
		case next == 'n':
			emit('\n', i, i+2)
			i += 2
		case next == 'r':
			emit('\r', i, i+2)
			i += 2
		case next == 't':
			emit('\t', i, i+2)
			i += 2
		case next == 'x':
			j := i + 2
			val, digits := 0, 0
			for j < n && digits < 2 && isHexDigit(raw[j]) {
				val = val*16 + hexValue(raw[j])
				j++
				digits++
			}
			if digits == 0 {
				// "\x" with no digits decodes as a literal x.
				emit('x', i, i+2)
				i += 2
				break
			}
			emit(byte(val), i, j)
			i = j
		case next >= '0' && next <= '7':
			j := i + 1
			val, digits := 0, 0
			for j < n && digits < 3 && raw[j] >= '0' && raw[j] <= '7' {
				val = val*8 + int(raw[j]-'0')
				j++
				digits++
			}
			emit(byte(val), i, j)
			i = j
		default:
			emit(next, i, i+2)
			i += 2
		}
	}
	return string(out), starts, ends
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func hexValue(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10
	default:
		return int(b-'A') + 10
	}
}

// findConcatBase64 scans concatenated string-literal sequences in text for
// base64 runs spanning literal boundaries. Returned hits carry raw-text
// offsets; Fragment is the decoded base64 run.
func findConcatBase64(text string, base64Rx *regexp.Regexp) []catalog.Hit {
	var hits []catalog.Hit
	for _, seq := range literalSeqRx.FindAllStringIndex(text, -1) {
		seqText := text[seq[0]:seq[1]]

		var decoded []byte
		var starts, ends []int
		for _, lit := range literalOneRx.FindAllStringSubmatchIndex(seqText, -1) {
			bodyStart := lit[2]
			body := seqText[lit[2]:lit[3]]
			dec, ds, de := decodeLiteral(body)
			decoded = append(decoded, dec...)
			base := seq[0] + bodyStart
			for k := range ds {
				starts = append(starts, base+ds[k])
				ends = append(ends, base+de[k])
			}
		}

		full := string(decoded)
		for _, loc := range base64Rx.FindAllStringIndex(full, -1) {
			s, e := loc[0], loc[1]
			if s >= len(starts) || e-1 >= len(ends) {
				continue
			}
			hits = append(hits, catalog.Hit{
				Start:    starts[s],
				End:      ends[e-1],
				Fragment: full[s:e],
			})
		}
	}
	return hits
}
