package protocol

import "strings"

// escapePairs is the full set of characters the protocol reserves, in
// raw/wire order. Keys and verbs never contain any of these; values may
// contain all of them.
var escapePairs = []string{
	"\\", `\\`,
	"/", `\/`,
	" ", `\s`,
	"|", `\p`,
	"\a", `\a`,
	"\b", `\b`,
	"\f", `\f`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\v", `\v`,
}

var (
	escaper   = strings.NewReplacer(escapePairs...)
	unescaper = strings.NewReplacer(invert(escapePairs)...)
)

func invert(pairs []string) []string {
	inverted := make([]string, len(pairs))
	for i := 0; i < len(pairs); i += 2 {
		inverted[i], inverted[i+1] = pairs[i+1], pairs[i]
	}
	return inverted
}

// Escape turns a raw value into its wire-safe form:
//
//	Escape("Hello World")  // `Hello\sWorld`
//	Escape("a ]|[ server") // `a\s]\p[\sserver`
//
// Escape and Unescape are mutual inverses for every string.
func Escape(raw string) string {
	return escaper.Replace(raw)
}

// Unescape undoes the wire escaping:
//
//	Unescape(`Hello\sWorld`) // "Hello World"
//
// Escape sequences outside the table above are passed through verbatim.
// The `\\` pair is listed first in the replacer, so an escaped backslash
// is never re-interpreted as the start of another sequence.
func Unescape(wire string) string {
	return unescaper.Replace(wire)
}
