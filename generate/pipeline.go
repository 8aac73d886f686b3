package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/toolink/groundchat/citation"
	"github.com/toolink/groundchat/imagesearch"
	"github.com/toolink/groundchat/reporting"
	"github.com/toolink/groundchat/session"
)

const imageCheckPrompt = `
Would an image be very helpful in answering this question? Answer only "yes" or "no".

Question:
%s

Answer:
%s
`

const imageQueryPrompt = `
What search term should be used to find an image related to this question/answer? Return only the single search term.

Question:
%s

Answer:
%s
`

// ImageFinder looks up a photo for a search term.
type ImageFinder interface {
	Top(ctx context.Context, query string) (*imagesearch.Photo, error)
}

// Recorder stores a completed interaction.
type Recorder interface {
	Report(ctx context.Context, in reporting.Interaction) error
}

// Reply is what the user is shown for one prompt.
type Reply struct {
	SessionID string              `json:"session_id"`
	Content   string              `json:"content"`
	Sources   []citation.Citation `json:"sources"`
	Image     *reporting.Image    `json:"image"`
}

// Pipeline answers prompts: generate, annotate, optionally illustrate, report.
type Pipeline struct {
	generator Generator
	annotator *citation.Annotator

	// image lookup is enabled when both are set
	imageGenerator Generator
	images         ImageFinder

	recorder Recorder
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithImages enables image lookup. g answers the yes/no and search term
// prompts and finder resolves the term to a photo.
func WithImages(g Generator, finder ImageFinder) PipelineOption {
	return func(p *Pipeline) {
		p.imageGenerator = g
		p.images = finder
	}
}

// WithRecorder reports every reply.
func WithRecorder(r Recorder) PipelineOption {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// NewPipeline creates a Pipeline generating with g and annotating with a.
func NewPipeline(g Generator, a *citation.Annotator, opts ...PipelineOption) *Pipeline {
	if a == nil {
		a = citation.New()
	}
	p := &Pipeline{generator: g, annotator: a}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Respond answers prompt. Generation errors (including rate limit
// rejections) are returned. Malformed grounding degrades to the plain
// answer text, and image or reporting failures are logged and dropped.
func (p *Pipeline) Respond(ctx context.Context, prompt string) (*Reply, error) {
	resp, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("generator returned no response")
	}

	reply := &Reply{
		SessionID: session.ID(ctx),
		Content:   resp.Text,
		Sources:   []citation.Citation{},
	}

	doc, err := p.annotator.Annotate(resp.Text, resp.Grounding())
	switch {
	case errors.Is(err, citation.ErrMalformedGrounding):
		log.Warn().Err(err).Str("session_id", reply.SessionID).Msg("malformed grounding, replying without citations")
	case err != nil:
		return nil, fmt.Errorf("annotate: %w", err)
	default:
		reply.Content = doc.Text
		reply.Sources = doc.Sources
	}

	reply.Image = p.illustrate(ctx, prompt, resp.Text)
	p.report(ctx, prompt, reply)
	return reply, nil
}

// illustrate asks whether an image would help and, if so, finds one.
func (p *Pipeline) illustrate(ctx context.Context, prompt, answer string) *reporting.Image {
	if p.imageGenerator == nil || p.images == nil {
		return nil
	}

	check, err := p.imageGenerator.Generate(ctx, fmt.Sprintf(imageCheckPrompt, prompt, answer))
	if err != nil {
		log.Warn().Err(err).Msg("image check failed")
		return nil
	}
	if check == nil || !strings.Contains(strings.ToLower(check.Text), "yes") {
		return nil
	}

	term, err := p.imageGenerator.Generate(ctx, fmt.Sprintf(imageQueryPrompt, prompt, answer))
	if err != nil || term == nil {
		log.Warn().Err(err).Msg("image search term generation failed")
		return nil
	}

	photo, err := p.images.Top(ctx, strings.TrimSpace(term.Text))
	if err != nil {
		log.Warn().Err(err).Str("query", strings.TrimSpace(term.Text)).Msg("image search failed")
		return nil
	}
	return &reporting.Image{Src: photo.Src.Original, Alt: photo.Alt}
}

func (p *Pipeline) report(ctx context.Context, prompt string, reply *Reply) {
	if p.recorder == nil {
		return
	}
	if reply.SessionID == "" {
		log.Warn().Msg("no session in context, interaction not reported")
		return
	}
	err := p.recorder.Report(ctx, reporting.Interaction{
		SessionID: reply.SessionID,
		Prompt:    prompt,
		Response:  reply.Content,
		Image:     reply.Image,
	})
	sess, _ := session.FromContext(ctx)
	if err != nil {
		log.Error().Err(err).Str("session_id", reply.SessionID).Str("strategy", sess.Strategy()).Msg("failed to report interaction")
		return
	}
	log.Debug().Str("session_id", reply.SessionID).Str("strategy", sess.Strategy()).Msg("interaction reported")
}
