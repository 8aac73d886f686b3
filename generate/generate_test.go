package generate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolink/groundchat/citation"
	"github.com/toolink/groundchat/imagesearch"
	"github.com/toolink/groundchat/limiter"
	"github.com/toolink/groundchat/reporting"
	"github.com/toolink/groundchat/session"
)

func plain(text string) *Response {
	return &Response{Text: text, Candidates: []Candidate{{GroundingMetadata: &GroundingMetadata{}}}}
}

func grounded(text string) *Response {
	return &Response{
		Text: text,
		Candidates: []Candidate{{GroundingMetadata: &GroundingMetadata{
			GroundingChunks: []GroundingChunk{
				{RetrievedContext: &ChunkSource{Title: "Trout guide", URI: "gs://fish-docs/guides/trout.pdf"}},
			},
			GroundingSupports: []GroundingSupport{
				{Segment: Segment{StartIndex: 0, EndIndex: 5, Text: text[:5]}, GroundingChunkIndices: []int{0}},
			},
		}}},
	}
}

type countingGenerator struct {
	calls atomic.Int32
	resp  *Response
	err   error
}

func (g *countingGenerator) Generate(context.Context, string) (*Response, error) {
	g.calls.Add(1)
	return g.resp, g.err
}

func newLimiter(t *testing.T, rules ...limiter.Rule) *limiter.RateLimiter {
	t.Helper()
	cfg := &limiter.Config{Rules: rules}
	require.NoError(t, cfg.ValidateAndPrepare())
	return limiter.NewRateLimiter(cfg, limiter.NewMemoryStore())
}

func TestGroundingConvertsByteOffsets(t *testing.T) {
	resp := &Response{
		Text: "héllo wörld",
		Candidates: []Candidate{{GroundingMetadata: &GroundingMetadata{
			GroundingChunks: []GroundingChunk{
				{Web: &ChunkSource{Title: "Greeting", URI: "https://example.com/hi"}},
			},
			GroundingSupports: []GroundingSupport{
				{Segment: Segment{StartIndex: 7, EndIndex: 13, Text: "wörld"}, GroundingChunkIndices: []int{0, 3}},
			},
		}}},
	}

	g := resp.Grounding()
	require.Equal(t, []citation.Span{{Start: 6, End: 11, SourceID: "0", Text: "wörld"}}, g.Spans)
	require.Equal(t, "Greeting", g.Attributions["0"].Web.Title)

	doc, err := citation.Annotate(resp.Text, g, nil)
	require.NoError(t, err)
	require.Equal(t, "héllo wörld[1]", doc.Body)
}

func TestGroundingOutOfRangeStaysInvalid(t *testing.T) {
	resp := grounded("Hello world")
	resp.Candidates[0].GroundingMetadata.GroundingSupports[0].Segment.EndIndex = 40

	_, err := citation.Annotate(resp.Text, resp.Grounding(), nil)
	require.ErrorIs(t, err, citation.ErrMalformedGrounding)
}

func TestGroundingWithoutMetadata(t *testing.T) {
	resp := &Response{Text: "hi"}
	require.False(t, resp.Grounded())
	require.Empty(t, resp.Grounding().Spans)

	var nilResp *Response
	require.False(t, nilResp.Grounded())
}

func TestChainFirstGroundedWins(t *testing.T) {
	first := &countingGenerator{resp: plain("no sources")}
	second := &countingGenerator{resp: grounded("Trout are fish.")}
	third := &countingGenerator{resp: grounded("unused")}

	chain := NewChain([]Strategy{
		{Name: StrategyMultiturn, Generator: first},
		{Name: StrategySingleturn, Generator: second},
		{Name: StrategyGoogleSearch, Generator: third},
	})

	resp, err := chain.Generate(context.Background(), "What does a Rainbow Trout look like?")
	require.NoError(t, err)
	require.Equal(t, "Trout are fish.", resp.Text)
	require.EqualValues(t, 1, first.calls.Load())
	require.EqualValues(t, 1, second.calls.Load())
	require.EqualValues(t, 0, third.calls.Load())
	require.Equal(t, []string{StrategyMultiturn, StrategySingleturn, StrategyGoogleSearch}, chain.Names())
}

func TestChainRecordsStrategyOnSession(t *testing.T) {
	chain := NewChain([]Strategy{
		{Name: StrategyMultiturn, Generator: &countingGenerator{resp: plain("no sources")}},
		{Name: StrategyGoogleSearch, Generator: &countingGenerator{resp: grounded("Trout are fish.")}},
		{Name: StrategyGeneric, Generator: &countingGenerator{resp: plain("unused")}},
	})

	sess := session.New("s-1")
	_, err := chain.Generate(sess.WithContext(context.Background()), "q")
	require.NoError(t, err)
	require.Equal(t, StrategyGoogleSearch, sess.Strategy())

	ungrounded := NewChain([]Strategy{
		{Name: StrategyMultiturn, Generator: &countingGenerator{resp: plain("a")}},
		{Name: StrategyGeneric, Generator: &countingGenerator{resp: plain("b")}},
	})
	_, err = ungrounded.Generate(sess.WithContext(context.Background()), "q")
	require.NoError(t, err)
	require.Equal(t, StrategyGeneric, sess.Strategy())
}

func TestChainReturnsLastWhenNoneGrounded(t *testing.T) {
	chain := NewChain([]Strategy{
		{Name: "a", Generator: &countingGenerator{resp: plain("first")}},
		{Name: "b", Generator: &countingGenerator{resp: plain("last")}},
	})

	resp, err := chain.Generate(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, "last", resp.Text)
}

func TestChainStopsOnRateLimit(t *testing.T) {
	rl := newLimiter(t, limiter.Rule{Key: StrategySingleturn, MaxRequests: 0, Period: time.Minute})
	first := &countingGenerator{resp: plain("no sources")}
	second := &countingGenerator{resp: grounded("Trout are fish.")}
	third := &countingGenerator{resp: grounded("unused")}

	chain := NewChain([]Strategy{
		{Name: StrategyMultiturn, Generator: first},
		{Name: StrategySingleturn, Generator: second},
		{Name: StrategyGeneric, Generator: third},
	}, WithChecker(rl))

	_, err := chain.Generate(context.Background(), "q")
	require.ErrorIs(t, err, limiter.ErrRateLimitExceeded)

	var rle *limiter.RateLimitExceededError
	require.True(t, errors.As(err, &rle))
	require.Equal(t, StrategySingleturn, rle.Key)
	require.EqualValues(t, 1, first.calls.Load())
	require.EqualValues(t, 0, second.calls.Load())
	require.EqualValues(t, 0, third.calls.Load())
}

func TestChainStopsOnGeneratorError(t *testing.T) {
	boom := errors.New("model unavailable")
	next := &countingGenerator{resp: grounded("unused")}
	chain := NewChain([]Strategy{
		{Name: "a", Generator: &countingGenerator{err: boom}},
		{Name: "b", Generator: next},
	})

	_, err := chain.Generate(context.Background(), "q")
	require.ErrorIs(t, err, boom)
	require.EqualValues(t, 0, next.calls.Load())
}

func TestChainWithoutStrategies(t *testing.T) {
	_, err := NewChain(nil).Generate(context.Background(), "q")
	require.ErrorIs(t, err, ErrNoStrategies)
}

type fakeImages struct {
	query string
	photo *imagesearch.Photo
	err   error
}

func (f *fakeImages) Top(_ context.Context, query string) (*imagesearch.Photo, error) {
	f.query = query
	return f.photo, f.err
}

type fakeRecorder struct {
	mu   sync.Mutex
	got  []reporting.Interaction
	fail error
}

func (f *fakeRecorder) Report(_ context.Context, in reporting.Interaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, in)
	return f.fail
}

// scripted answers the image check and search term prompts.
func scripted(check, term string) Generator {
	return GeneratorFunc(func(_ context.Context, prompt string) (*Response, error) {
		if strings.Contains(prompt, `Answer only "yes" or "no"`) {
			return plain(check), nil
		}
		return plain(term), nil
	})
}

func TestPipelineRespond(t *testing.T) {
	images := &fakeImages{photo: &imagesearch.Photo{Alt: "A rainbow trout", Src: imagesearch.PhotoSrc{Original: "https://images.example/trout.jpg"}}}
	rec := &fakeRecorder{}
	p := NewPipeline(
		&countingGenerator{resp: grounded("Trout are fish.")},
		citation.New(citation.WithResolver(citation.StaticHost("https://static.example.com"))),
		WithImages(scripted("Yes.", " rainbow trout \n"), images),
		WithRecorder(rec),
	)

	ctx := session.New("session-1").WithContext(context.Background())
	reply, err := p.Respond(ctx, "What does a Rainbow Trout look like?")
	require.NoError(t, err)

	require.Equal(t, "session-1", reply.SessionID)
	require.Equal(t, "Trout[1] are fish.\n\n[[1] Trout guide](https://static.example.com/guides/trout.pdf)", reply.Content)
	require.Len(t, reply.Sources, 1)
	require.Equal(t, &reporting.Image{Src: "https://images.example/trout.jpg", Alt: "A rainbow trout"}, reply.Image)
	require.Equal(t, "rainbow trout", images.query)

	require.Len(t, rec.got, 1)
	require.Equal(t, "session-1", rec.got[0].SessionID)
	require.Equal(t, "What does a Rainbow Trout look like?", rec.got[0].Prompt)
	require.Equal(t, reply.Content, rec.got[0].Response)
	require.Equal(t, reply.Image, rec.got[0].Image)
}

func TestPipelineMalformedGroundingFallsBack(t *testing.T) {
	resp := grounded("Trout are fish.")
	resp.Candidates[0].GroundingMetadata.GroundingSupports[0].GroundingChunkIndices = []int{9}

	p := NewPipeline(&countingGenerator{resp: resp}, nil)
	reply, err := p.Respond(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, "Trout are fish.", reply.Content)
	require.Empty(t, reply.Sources)
}

func TestPipelineImageFailuresAreDropped(t *testing.T) {
	tests := []struct {
		name   string
		gen    Generator
		images *fakeImages
	}{
		{name: "answer is no", gen: scripted("no", "trout"), images: &fakeImages{photo: &imagesearch.Photo{}}},
		{name: "search fails", gen: scripted("yes", "trout"), images: &fakeImages{err: imagesearch.ErrNoResults}},
		{name: "check fails", gen: &countingGenerator{err: errors.New("down")}, images: &fakeImages{photo: &imagesearch.Photo{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(&countingGenerator{resp: plain("Yes, in Texas.")}, nil, WithImages(tt.gen, tt.images))
			reply, err := p.Respond(context.Background(), "Is a fishing license required in Texas?")
			require.NoError(t, err)
			require.Nil(t, reply.Image)
			require.Equal(t, "Yes, in Texas.", reply.Content)
		})
	}
}

func TestPipelineReportingFailureIsDropped(t *testing.T) {
	rec := &fakeRecorder{fail: errors.New("redis down")}
	p := NewPipeline(&countingGenerator{resp: plain("ok")}, nil, WithRecorder(rec))

	reply, err := p.Respond(session.New("s").WithContext(context.Background()), "q")
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Content)
	require.Len(t, rec.got, 1)

	// no session, nothing reported
	_, err = p.Respond(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, rec.got, 1)
}

func TestPipelineRateLimited(t *testing.T) {
	rl := newLimiter(t, limiter.Rule{Key: "only", MaxRequests: 1, Period: time.Minute})
	chain := NewChain([]Strategy{{Name: "only", Generator: &countingGenerator{resp: plain("ok")}}}, WithChecker(rl))
	p := NewPipeline(chain, nil)

	_, err := p.Respond(context.Background(), "q")
	require.NoError(t, err)
	_, err = p.Respond(context.Background(), "q")
	require.ErrorIs(t, err, limiter.ErrRateLimitExceeded)
}

func TestLimitedGenerator(t *testing.T) {
	rl := newLimiter(t, limiter.Rule{Key: StrategyGeneric, MaxRequests: 1, Period: time.Minute})
	inner := &countingGenerator{resp: plain("ok")}
	g := Limited(StrategyGeneric, inner, rl)

	_, err := g.Generate(context.Background(), "q")
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "q")
	require.ErrorIs(t, err, limiter.ErrRateLimitExceeded)
	require.EqualValues(t, 1, inner.calls.Load())

	require.Same(t, Generator(inner), Limited("x", inner, nil))
}

func TestRemoteGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"text": "Trout are fish.",
			"candidates": [{"grounding_metadata": {
				"grounding_chunks": [{"web": {"uri": "https://example.com/trout", "title": "Trout"}}],
				"grounding_supports": [{"segment": {"start_index": 0, "end_index": 5, "text": "Trout"}, "grounding_chunk_indices": [0]}]
			}}]
		}`))
	}))
	defer server.Close()

	resp, err := NewRemote(server.URL).Generate(context.Background(), "trout?")
	require.NoError(t, err)
	require.True(t, resp.Grounded())
	require.Equal(t, "Trout are fish.", resp.Text)
}

func TestRemoteMakesSingleAttempt(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`gateway says no`))
			}))
			defer server.Close()

			_, err := NewRemote(server.URL).Generate(context.Background(), "q")
			require.Error(t, err)
			require.Contains(t, err.Error(), strconv.Itoa(status))
			require.EqualValues(t, 1, attempts.Load())
		})
	}
}
