package citation

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func web(title, uri string) Attribution {
	return Attribution{Web: &Source{Title: title, URI: uri}}
}

func retrieved(title, uri string) Attribution {
	return Attribution{RetrievedContext: &Source{Title: title, URI: uri}}
}

func TestAnnotateEmptyGrounding(t *testing.T) {
	doc, err := Annotate("Rainbow trout are colourful.", Grounding{}, StaticHost("https://static.example.com"))
	require.NoError(t, err)
	require.Equal(t, "Rainbow trout are colourful.", doc.Body)
	require.Equal(t, "Rainbow trout are colourful.", doc.Text)
	require.NotNil(t, doc.Sources)
	require.Empty(t, doc.Sources)
}

func TestAnnotateNonOverlappingSpans(t *testing.T) {
	g := Grounding{
		Spans: []Span{
			{Start: 0, End: 5, SourceID: "0", Text: "Hello"},
			{Start: 10, End: 15, SourceID: "1", Text: "d, fr"},
		},
		Attributions: map[string]Attribution{
			"0": web("S1", "https://s1.example/page"),
			"1": retrieved("S2", "gs://fishing-docs/guides/s2.pdf"),
		},
	}

	doc, err := Annotate("Hello world, friend!", g, StaticHost("https://static.example.com/"))
	require.NoError(t, err)
	require.Equal(t, "Hello[1] world, fr[2]iend!", doc.Body)
	require.Equal(t, []Citation{
		{Number: 1, Title: "S1", URI: "https://s1.example/page", URL: "https://s1.example/page"},
		{Number: 2, Title: "S2", URI: "gs://fishing-docs/guides/s2.pdf", URL: "https://static.example.com/guides/s2.pdf"},
	}, doc.Sources)
	require.Equal(t,
		"Hello[1] world, fr[2]iend!"+
			"\n\n[[1] S1](https://s1.example/page)"+
			"\n\n[[2] S2](https://static.example.com/guides/s2.pdf)",
		doc.Text)
}

func TestAnnotateNumbersByFirstAppearance(t *testing.T) {
	text := "aaaaa bbbbb ccccc ddddd eeeee"
	g := Grounding{
		Spans: []Span{
			{Start: 24, End: 29, SourceID: "b", Text: "eeeee"},
			{Start: 0, End: 5, SourceID: "a", Text: "aaaaa"},
			{Start: 12, End: 17, SourceID: "b-again", Text: "ccccc"},
		},
		Attributions: map[string]Attribution{
			"a":       web("A", "https://a.example"),
			"b":       web("B", "https://b.example/1"),
			"b-again": retrieved("B", "https://b.example/2"),
		},
	}

	doc, err := Annotate(text, g, nil)
	require.NoError(t, err)
	require.Equal(t, "aaaaa[2] bbbbb ccccc[1] ddddd eeeee[1]", doc.Body)
	require.Len(t, doc.Sources, 2)
	require.Equal(t, "B", doc.Sources[0].Title)
	require.Equal(t, 1, doc.Sources[0].Number)
	require.Equal(t, "https://b.example/1", doc.Sources[0].URL, "first appearance supplies the uri")
	require.Equal(t, "A", doc.Sources[1].Title)
	require.Equal(t, 2, doc.Sources[1].Number)
}

func TestAnnotateSameStartLaterDeclaredFirst(t *testing.T) {
	g := Grounding{
		Spans: []Span{
			{Start: 0, End: 3, SourceID: "x", Text: "abc"},
			{Start: 0, End: 6, SourceID: "y", Text: "abcdef"},
		},
		Attributions: map[string]Attribution{
			"x": web("X", "https://x.example"),
			"y": web("Y", "https://y.example"),
		},
	}

	doc, err := Annotate("abcdefghij", g, nil)
	require.NoError(t, err)
	require.Equal(t, "abc[1]def[2]ghij", doc.Body)
}

func TestAnnotateOverlappingSpans(t *testing.T) {
	g := Grounding{
		Spans: []Span{
			{Start: 2, End: 8, SourceID: "x", Text: "cdefgh"},
			{Start: 5, End: 10, SourceID: "y", Text: "fghij"},
		},
		Attributions: map[string]Attribution{
			"x": web("X", "https://x.example"),
			"y": web("Y", "https://y.example"),
		},
	}

	doc, err := Annotate("abcdefghij", g, nil)
	require.NoError(t, err)
	require.Equal(t, "abcdefgh[1]ij[2]", doc.Body)
}

func TestAnnotateClampsEndShortenedByLaterSpan(t *testing.T) {
	g := Grounding{
		Spans: []Span{
			{Start: 0, End: 9, SourceID: "x", Text: "ABC"},
			{Start: 4, End: 10, SourceID: "y", Text: "x"},
		},
		Attributions: map[string]Attribution{
			"x": web("X", "https://x.example"),
			"y": web("Y", "https://y.example"),
		},
	}

	doc, err := Annotate("abcdefghij", g, nil)
	require.NoError(t, err)
	require.Equal(t, "ABC[1]", doc.Body)
}

func TestAnnotateCountsRunes(t *testing.T) {
	g := Grounding{
		Spans:        []Span{{Start: 6, End: 11, SourceID: "s", Text: "wörld"}},
		Attributions: map[string]Attribution{"s": web("S", "https://s.example")},
	}

	doc, err := Annotate("héllo wörld, ça va", g, nil)
	require.NoError(t, err)
	require.Equal(t, "héllo wörld[1], ça va", doc.Body)
}

func TestAnnotateInvalidRanges(t *testing.T) {
	attributions := map[string]Attribution{"s": web("S", "https://s.example")}
	tests := []struct {
		name string
		span Span
	}{
		{name: "end beyond text", span: Span{Start: 2, End: 21, SourceID: "s"}},
		{name: "start after end", span: Span{Start: 5, End: 4, SourceID: "s"}},
		{name: "negative start", span: Span{Start: -1, End: 4, SourceID: "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Grounding{
				Spans:        []Span{{Start: 0, End: 5, SourceID: "s", Text: "Hello"}, tt.span},
				Attributions: attributions,
			}
			doc, err := Annotate("Hello world, friend!", g, nil)
			require.Nil(t, doc)
			require.ErrorIs(t, err, ErrMalformedGrounding)

			var rangeErr *InvalidSpanRangeError
			require.True(t, errors.As(err, &rangeErr))
			require.Equal(t, 1, rangeErr.Index)
			require.Equal(t, 20, rangeErr.Length)
		})
	}
}

func TestAnnotateMalformedAttribution(t *testing.T) {
	tests := []struct {
		name         string
		attributions map[string]Attribution
	}{
		{name: "no source", attributions: map[string]Attribution{"s": {}}},
		{name: "unknown id", attributions: map[string]Attribution{"other": web("S", "https://s.example")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Grounding{
				Spans:        []Span{{Start: 0, End: 5, SourceID: "s", Text: "Hello"}},
				Attributions: tt.attributions,
			}
			doc, err := Annotate("Hello world", g, nil)
			require.Nil(t, doc)
			require.ErrorIs(t, err, ErrMalformedGrounding)

			var rangeErr *InvalidSpanRangeError
			require.False(t, errors.As(err, &rangeErr))
		})
	}
}

func TestResolveURL(t *testing.T) {
	resolve := StaticHost("https://static.example.com")

	require.Equal(t, "https://static.example.com/path/to/doc.pdf", resolveURL("gs://bucket/path/to/doc.pdf", resolve))
	require.Equal(t, "https://www.example.com/fly-reels", resolveURL("https://www.example.com/fly-reels", resolve))
	require.Equal(t, "https://static.example.com/", resolveURL("gs://bucket", resolve))
	require.Equal(t, "gs://bucket/a.pdf", resolveURL("gs://bucket/a.pdf", nil))
}

func TestMarkers(t *testing.T) {
	require.Equal(t, "[7]", BracketMarker(7))
	require.Equal(t, "¹²", SuperscriptMarker(12))

	m, err := MarkerByName("superscript")
	require.NoError(t, err)
	require.Equal(t, "³", m(3))

	_, err = MarkerByName("roman")
	require.Error(t, err)
}

func TestAnnotatorCustomMarker(t *testing.T) {
	a := New(WithMarker(SuperscriptMarker))
	g := Grounding{
		Spans:        []Span{{Start: 0, End: 5, SourceID: "s", Text: "Trout"}},
		Attributions: map[string]Attribution{"s": web("Trout facts", "https://t.example")},
	}

	doc, err := a.Annotate("Trout live in rivers.", g)
	require.NoError(t, err)
	require.Equal(t, "Trout¹ live in rivers.", doc.Body)
}

func TestAnnotatorConcurrentUse(t *testing.T) {
	a := New(WithResolver(StaticHost("https://static.example.com")))
	g := Grounding{
		Spans:        []Span{{Start: 0, End: 5, SourceID: "s", Text: "Hello"}},
		Attributions: map[string]Attribution{"s": retrieved("Doc", "gs://b/doc.pdf")},
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := a.Annotate(fmt.Sprintf("Hello %d", i), g)
			require.NoError(t, err)
			require.Equal(t, fmt.Sprintf("Hello[1] %d", i), doc.Body)
		}(i)
	}
	wg.Wait()
}
