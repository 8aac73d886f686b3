package citation

import (
	"fmt"
	"strconv"
	"strings"
)

const bucketScheme = "gs://"

// Resolver maps a bucket-relative object path to a browsable URL.
type Resolver func(path string) string

// StaticHost serves bucket objects from a static host: "<base>/<path>".
func StaticHost(base string) Resolver {
	base = strings.TrimRight(base, "/")
	return func(path string) string {
		return base + "/" + strings.TrimLeft(path, "/")
	}
}

// resolveURL returns the browsable location for uri. Bucket URIs lose their
// scheme and bucket segment and go through resolve; anything else is verbatim.
func resolveURL(uri string, resolve Resolver) string {
	if resolve == nil || !strings.HasPrefix(uri, bucketScheme) {
		return uri
	}
	rest := uri[len(bucketScheme):]
	path := ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		path = rest[i+1:]
	}
	return resolve(path)
}

// Marker renders the inline citation marker for a source number.
type Marker func(n int) string

// BracketMarker renders "[n]".
func BracketMarker(n int) string {
	return "[" + strconv.Itoa(n) + "]"
}

var superscriptDigits = []rune("⁰¹²³⁴⁵⁶⁷⁸⁹")

// SuperscriptMarker renders n with superscript digits.
func SuperscriptMarker(n int) string {
	digits := strconv.Itoa(n)
	var b strings.Builder
	for _, d := range digits {
		b.WriteRune(superscriptDigits[d-'0'])
	}
	return b.String()
}

// MarkerByName returns the marker registered under name ("bracket" or "superscript").
func MarkerByName(name string) (Marker, error) {
	switch name {
	case "", "bracket":
		return BracketMarker, nil
	case "superscript":
		return SuperscriptMarker, nil
	default:
		return nil, fmt.Errorf("unknown citation marker: %q", name)
	}
}

// renderSources formats the trailing source list, one markdown link per source.
func renderSources(sources []Citation) string {
	var b strings.Builder
	for _, s := range sources {
		fmt.Fprintf(&b, "\n\n[[%d] %s](%s)", s.Number, s.Title, s.URL)
	}
	return b.String()
}
