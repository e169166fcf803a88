package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dreamwire/TGMediaBot/internal/models"
	"github.com/dreamwire/TGMediaBot/internal/redeem"
	"github.com/dreamwire/TGMediaBot/internal/repository"
)

// Server is the operator panel: key issuance, broadcasts and usage stats
// behind basic auth.
type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	redeemer *redeem.Engine
	keys     *repository.KeyRepository
	users    *repository.EntitlementRepository
	bot      *tgbotapi.BotAPI
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, redeemer *redeem.Engine, keys *repository.KeyRepository, users *repository.EntitlementRepository, bot *tgbotapi.BotAPI) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		redeemer: redeemer,
		keys:     keys,
		users:    users,
		bot:      bot,
		router:   r,
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/keys", s.handleIssueKeys)
		protected.Get("/keys", s.handleListKeys)
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Get("/stats", s.handleStats)
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin panel listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

type issueKeysRequest struct {
	Plan  string `json:"plan"`
	Count int    `json:"count"`
}

func (s *Server) handleIssueKeys(w http.ResponseWriter, r *http.Request) {
	var req issueKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	plan, ok := models.PlanByType(models.PlanType(req.Plan))
	if !ok {
		http.Error(w, "unknown plan", http.StatusBadRequest)
		return
	}
	if req.Count <= 0 || req.Count > 1000 {
		http.Error(w, "count must be between 1 and 1000", http.StatusBadRequest)
		return
	}

	tokens, err := s.redeemer.IssueKeys(r.Context(), plan.Type, req.Count)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"plan":   plan.Type,
		"tokens": tokens,
	})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	includeUsed := r.URL.Query().Get("include_used") == "true"
	keys, err := s.keys.List(r.Context(), includeUsed)
	if err != nil {
		s.internalError(w, err)
		return
	}

	type keyView struct {
		Token     string    `json:"token"`
		Plan      string    `json:"plan"`
		Used      bool      `json:"used"`
		UsedBy    *int64    `json:"used_by,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]keyView, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyView{
			Token:     k.Token,
			Plan:      string(k.PlanType),
			Used:      k.Used,
			UsedBy:    k.UsedBy,
			CreatedAt: k.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ids, err := s.users.ListChatIDs(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}

	count := 0
	for _, id := range ids {
		msg := tgbotapi.NewMessage(id, req.Message)
		if _, err := s.bot.Send(msg); err != nil {
			s.log.Error("send broadcast", "chat_id", id, "err", err)
			continue
		}
		count++
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"sent":  count,
		"total": len(ids),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.users.Stats(r.Context(), time.Now())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="mediabot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
