// Package generate runs a prompt through an ordered chain of generation
// strategies and turns the first grounded answer into an annotated reply.
package generate

import (
	"strconv"
	"unicode/utf8"

	"github.com/toolink/groundchat/citation"
)

// Response is the generation service's answer to one prompt.
type Response struct {
	Text       string      `json:"text"`
	Candidates []Candidate `json:"candidates"`
}

// Candidate is one generated alternative. Only the first is used.
type Candidate struct {
	GroundingMetadata *GroundingMetadata `json:"grounding_metadata,omitempty"`
}

// GroundingMetadata attributes segments of the answer to retrieved chunks.
type GroundingMetadata struct {
	GroundingChunks   []GroundingChunk   `json:"grounding_chunks"`
	GroundingSupports []GroundingSupport `json:"grounding_supports"`
}

// GroundingChunk is a retrieved document or a web page.
type GroundingChunk struct {
	RetrievedContext *ChunkSource `json:"retrieved_context,omitempty"`
	Web              *ChunkSource `json:"web,omitempty"`
}

// ChunkSource identifies where a chunk came from.
type ChunkSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// GroundingSupport ties a segment of the answer to one or more chunks.
type GroundingSupport struct {
	Segment               Segment `json:"segment"`
	GroundingChunkIndices []int   `json:"grounding_chunk_indices"`
}

// Segment is a byte range of the answer text.
type Segment struct {
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Text       string `json:"text"`
}

// Metadata returns the first candidate's grounding metadata, or nil.
func (r *Response) Metadata() *GroundingMetadata {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	return r.Candidates[0].GroundingMetadata
}

// Grounded reports whether the response carries at least one grounding support.
func (r *Response) Grounded() bool {
	md := r.Metadata()
	return md != nil && len(md.GroundingSupports) > 0
}

// Grounding converts the metadata into annotator input. Each span is
// attributed to its first chunk and byte offsets become rune offsets.
// Structural problems (missing chunk indices, empty chunks) are left for
// the annotator to reject.
func (r *Response) Grounding() citation.Grounding {
	md := r.Metadata()
	if md == nil {
		return citation.Grounding{}
	}

	g := citation.Grounding{
		Spans:        make([]citation.Span, 0, len(md.GroundingSupports)),
		Attributions: make(map[string]citation.Attribution, len(md.GroundingChunks)),
	}
	for i, chunk := range md.GroundingChunks {
		var a citation.Attribution
		if chunk.RetrievedContext != nil {
			a.RetrievedContext = &citation.Source{Title: chunk.RetrievedContext.Title, URI: chunk.RetrievedContext.URI}
		}
		if chunk.Web != nil {
			a.Web = &citation.Source{Title: chunk.Web.Title, URI: chunk.Web.URI}
		}
		g.Attributions[strconv.Itoa(i)] = a
	}

	for _, support := range md.GroundingSupports {
		sourceID := ""
		if len(support.GroundingChunkIndices) > 0 {
			sourceID = strconv.Itoa(support.GroundingChunkIndices[0])
		}
		g.Spans = append(g.Spans, citation.Span{
			Start:    runeOffset(r.Text, support.Segment.StartIndex),
			End:      runeOffset(r.Text, support.Segment.EndIndex),
			SourceID: sourceID,
			Text:     support.Segment.Text,
		})
	}
	return g
}

// runeOffset converts a byte offset into text to a rune offset. Offsets
// outside the text stay outside it so range validation still fails.
func runeOffset(text string, b int) int {
	switch {
	case b <= 0:
		return b
	case b >= len(text):
		return utf8.RuneCountInString(text) + (b - len(text))
	default:
		return utf8.RuneCountInString(text[:b])
	}
}
