package citation

import (
	"fmt"
	"sort"
)

// Annotator inserts citation markers into answer text.
// It holds no mutable state and is safe for concurrent use.
type Annotator struct {
	resolve Resolver
	marker  Marker
}

// Option configures an Annotator.
type Option func(*Annotator)

// WithResolver sets how bucket URIs become browsable URLs.
// Without one, bucket URIs are rendered verbatim.
func WithResolver(r Resolver) Option {
	return func(a *Annotator) {
		a.resolve = r
	}
}

// WithMarker sets the inline marker format. Defaults to BracketMarker.
func WithMarker(m Marker) Option {
	return func(a *Annotator) {
		if m != nil {
			a.marker = m
		}
	}
}

// New creates an Annotator.
func New(opts ...Option) *Annotator {
	a := &Annotator{marker: BracketMarker}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Annotate is a convenience for New(WithResolver(resolve)).Annotate(text, g).
func Annotate(text string, g Grounding, resolve Resolver) (*Document, error) {
	return New(WithResolver(resolve)).Annotate(text, g)
}

// Annotate numbers the sources of g by first appearance, places a marker
// after every span and appends the numbered source list.
//
// Sources are numbered in span declaration order; markers are placed right
// to left so each insertion happens after every offset still to be used.
func (a *Annotator) Annotate(text string, g Grounding) (*Document, error) {
	runes := []rune(text)

	// source discovery in declaration order
	numbers := make(map[string]int)
	spanNumbers := make([]int, len(g.Spans))
	var sources []Citation
	for i, span := range g.Spans {
		if span.Start < 0 || span.End < span.Start || span.End > len(runes) {
			return nil, &InvalidSpanRangeError{Index: i, Start: span.Start, End: span.End, Length: len(runes)}
		}

		attribution, ok := g.Attributions[span.SourceID]
		if !ok {
			return nil, fmt.Errorf("%w: span %d references unknown source %q", ErrMalformedGrounding, i, span.SourceID)
		}
		source, ok := attribution.Source()
		if !ok {
			return nil, fmt.Errorf("%w: source %q has neither retrieved context nor web attribution", ErrMalformedGrounding, span.SourceID)
		}

		n, seen := numbers[source.Title]
		if !seen {
			n = len(sources) + 1
			numbers[source.Title] = n
			sources = append(sources, Citation{
				Number: n,
				Title:  source.Title,
				URI:    source.URI,
				URL:    resolveURL(source.URI, a.resolve),
			})
		}
		spanNumbers[i] = n
	}

	// insertion order: start descending, later-declared first on equal starts
	order := make([]int, len(g.Spans))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return g.Spans[order[x]].Start < g.Spans[order[y]].Start
	})
	for x, y := 0, len(order)-1; x < y; x, y = x+1, y-1 {
		order[x], order[y] = order[y], order[x]
	}

	for _, i := range order {
		span := g.Spans[i]
		// earlier insertions only ever start at or after span.Start, but an
		// overlapping one may have shortened the text past span.End
		end := span.End
		if end > len(runes) {
			end = len(runes)
		}
		runes = splice(runes, span.Start, end, []rune(span.Text+a.marker(spanNumbers[i])))
	}

	body := string(runes)
	if sources == nil {
		sources = []Citation{}
	}
	return &Document{
		Body:    body,
		Sources: sources,
		Text:    body + renderSources(sources),
	}, nil
}

// splice returns a new slice with src[start:end] replaced by insert.
func splice(src []rune, start, end int, insert []rune) []rune {
	out := make([]rune, 0, len(src)-(end-start)+len(insert))
	out = append(out, src[:start]...)
	out = append(out, insert...)
	return append(out, src[end:]...)
}
