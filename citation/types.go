// Package citation turns grounding attributions returned alongside a generated
// answer into inline numbered citation markers and a trailing source list.
package citation

// Source is a document or web page an answer was grounded in.
// Title is the identity used for deduplication.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Attribution is what a span's source ID resolves to. Exactly one of the
// two fields is expected to be set; retrieved context wins if both are.
type Attribution struct {
	RetrievedContext *Source `json:"retrieved_context,omitempty"`
	Web              *Source `json:"web,omitempty"`
}

// Source picks the attribution's source, reporting false when it has none.
func (a Attribution) Source() (Source, bool) {
	switch {
	case a.RetrievedContext != nil:
		return *a.RetrievedContext, true
	case a.Web != nil:
		return *a.Web, true
	default:
		return Source{}, false
	}
}

// Span is a half-open character range [Start, End) of the answer text
// supported by one source. Offsets count runes of the original text.
type Span struct {
	Start    int    `json:"start"`
	End      int    `json:"end"`
	SourceID string `json:"source_id"`
	Text     string `json:"text"` // covered text as reported upstream, used verbatim when placing markers
}

// Grounding is the attribution data for one answer.
type Grounding struct {
	Spans        []Span                 `json:"spans"`
	Attributions map[string]Attribution `json:"attributions"`
}

// Citation is one numbered entry of a document's source list.
type Citation struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	URI    string `json:"uri"` // as reported upstream
	URL    string `json:"url"` // browsable location
}

// Document is an annotated answer.
type Document struct {
	Body    string     `json:"body"`    // answer text with citation markers
	Sources []Citation `json:"sources"` // first-appearance order, Number is 1-based
	Text    string     `json:"text"`    // Body followed by the rendered source list
}
