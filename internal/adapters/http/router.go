package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/config"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/ports"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/observability/metrics"
)

const (
	serviceName         = "api"
	maxChatBodyBytes    = 1 << 20
	maxCorpusBodyBytes  = 64 << 20
	maxConversationBody = 64 << 10
)

type Dependencies struct {
	Chat          ports.ChatService
	Corpus        ports.CorpusIngestor
	Status        ports.StatusReporter
	Conversations ports.ConversationService
	Metrics       *metrics.HTTPServerMetrics
}

type Router struct {
	cfg  config.Config
	deps Dependencies
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	return &Router{cfg: cfg, deps: deps}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/chat", rt.chat)
	mux.HandleFunc("POST /v1/chat/stream", rt.chatStream)
	mux.HandleFunc("GET /v1/status", rt.status)
	mux.HandleFunc("GET /v1/models", rt.models)
	mux.HandleFunc("POST /v1/corpus", rt.rebuildCorpus)
	mux.HandleFunc("POST /v1/conversations", rt.createConversation)
	mux.HandleFunc("GET /v1/conversations", rt.listConversations)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", rt.listMessages)
	if rt.deps.Metrics != nil {
		mux.Handle("GET /metrics", rt.deps.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait, rt.onReject)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.onReject)
	if rt.deps.Metrics != nil {
		handler = rt.deps.Metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) onReject(reason string) {
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordRejected(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Query           string   `json:"query"`
	ConversationRef string   `json:"conversation_ref"`
	Temperature     *float64 `json:"temperature"`
	MaxTokens       int      `json:"max_tokens"`
	K               int      `json:"k"`
	Sources         []string `json:"sources"`
	Category        string   `json:"category"`
}

func (req chatRequest) toQuery() (domain.QueryRequest, error) {
	filter := domain.SearchFilter{Category: strings.TrimSpace(req.Category)}
	for _, raw := range req.Sources {
		kind, err := domain.ParseSourceKind(raw)
		if err != nil {
			return domain.QueryRequest{}, err
		}
		filter.Sources = append(filter.Sources, kind)
	}
	return domain.QueryRequest{
		Query:          req.Query,
		ConversationID: strings.TrimSpace(req.ConversationRef),
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		K:              req.K,
		Filter:         filter,
	}, nil
}

func (rt *Router) decodeChat(w http.ResponseWriter, r *http.Request) (domain.QueryRequest, bool) {
	var req chatRequest
	if err := decodeJSON(w, r, maxChatBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return domain.QueryRequest{}, false
	}
	query, err := req.toQuery()
	if err != nil {
		writeError(w, r, err)
		return domain.QueryRequest{}, false
	}
	return query, true
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	query, ok := rt.decodeChat(w, r)
	if !ok {
		return
	}
	answer, err := rt.deps.Chat.Answer(r.Context(), query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.deps.Status.Status(r.Context()))
}

func (rt *Router) models(w http.ResponseWriter, r *http.Request) {
	models, err := rt.deps.Status.ListModels(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

type corpusRequest struct {
	Chunks []domain.ChunkRecord `json:"chunks"`
}

func (rt *Router) rebuildCorpus(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Corpus == nil {
		writeError(w, r, domain.WrapError(domain.ErrTemporary, "rebuild corpus", errors.New("corpus ingestion is not configured")))
		return
	}
	var req corpusRequest
	if err := decodeJSON(w, r, maxCorpusBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	version, err := rt.deps.Corpus.Rebuild(r.Context(), req.Chunks)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"corpus_version": version,
		"chunks":         len(req.Chunks),
	})
}

type createConversationRequest struct {
	Owner string `json:"owner"`
	Title string `json:"title"`
}

func (rt *Router) createConversation(w http.ResponseWriter, r *http.Request) {
	if !rt.conversationsEnabled(w, r) {
		return
	}
	var req createConversationRequest
	if err := decodeJSON(w, r, maxConversationBody, &req); err != nil {
		writeError(w, r, err)
		return
	}
	conv, err := rt.deps.Conversations.CreateConversation(r.Context(), req.Owner, req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (rt *Router) listConversations(w http.ResponseWriter, r *http.Request) {
	if !rt.conversationsEnabled(w, r) {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "list conversations", fmt.Errorf("invalid limit %q", raw)))
			return
		}
		limit = parsed
	}
	convs, err := rt.deps.Conversations.ListConversations(r.Context(), r.URL.Query().Get("owner"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (rt *Router) listMessages(w http.ResponseWriter, r *http.Request) {
	if !rt.conversationsEnabled(w, r) {
		return
	}
	messages, err := rt.deps.Conversations.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (rt *Router) conversationsEnabled(w http.ResponseWriter, r *http.Request) bool {
	if rt.deps.Conversations != nil {
		return true
	}
	writeError(w, r, domain.WrapError(domain.ErrTemporary, "conversations", errors.New("conversation store is not configured")))
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
