package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/toolink/groundchat/citation"
	"github.com/toolink/groundchat/generate"
	"github.com/toolink/groundchat/limiter"
)

type admitRequest struct {
	MaxRequests *int   `json:"max_requests"`
	Period      string `json:"period"`
}

type admitResponse struct {
	Key      string `json:"key"`
	Admitted bool   `json:"admitted"`
}

type usageResponse struct {
	Key         string `json:"key"`
	Count       int64  `json:"count"`
	MaxRequests int    `json:"max_requests"`
	Period      string `json:"period"`
	Remaining   int64  `json:"remaining"`
}

type annotateRequest struct {
	Text      string                      `json:"text"`
	Grounding *generate.GroundingMetadata `json:"grounding"`
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAdmit records an attempt for {key}. An explicit window in the body
// wins over the configured rule.
func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req admitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body: "+err.Error())
		return
	}

	var (
		admitted bool
		window   limiter.Window
		err      error
	)
	if req.MaxRequests != nil {
		period, perr := time.ParseDuration(req.Period)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid period: "+perr.Error())
			return
		}
		window, err = limiter.NewWindow(*req.MaxRequests, period)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_WINDOW", err.Error())
			return
		}
		admitted, err = s.limiter.Admit(r.Context(), key, window)
	} else {
		window, _ = s.limiter.Window(key)
		admitted, err = s.limiter.Allow(r.Context(), key)
	}
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("admission failed")
		writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "rate limit store unavailable")
		return
	}

	status := http.StatusOK
	if !admitted {
		status = http.StatusTooManyRequests
		if window.Period > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(window.Period.Seconds()))))
		}
	}
	writeJSON(w, status, admitResponse{Key: key, Admitted: admitted})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	usage, err := s.limiter.Usage(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{
		Key:         usage.Key,
		Count:       usage.Count,
		MaxRequests: usage.Window.MaxRequests,
		Period:      usage.Window.Period.String(),
		Remaining:   usage.Remaining(),
	})
}

func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	var req annotateRequest
	if !decode(w, r, &req) {
		return
	}

	resp := &generate.Response{Text: req.Text}
	if req.Grounding != nil {
		resp.Candidates = []generate.Candidate{{GroundingMetadata: req.Grounding}}
	}

	doc, err := s.annotator.Annotate(resp.Text, resp.Grounding())
	if err != nil {
		if errors.Is(err, citation.ErrMalformedGrounding) {
			writeError(w, http.StatusUnprocessableEntity, "MALFORMED_GROUNDING", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "prompt cannot be empty")
		return
	}

	reply, err := s.pipeline.Respond(r.Context(), req.Prompt)
	if err != nil {
		var rle *limiter.RateLimitExceededError
		if errors.As(err, &rle) {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rle.Window.Period.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", err.Error())
			return
		}
		log.Error().Err(err).Msg("chat generation failed")
		writeError(w, http.StatusBadGateway, "GENERATION_FAILED", "generation failed")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
