package apiserver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/coldbell/tradelens/backend/internal/analytics"
	"github.com/coldbell/tradelens/backend/internal/indexer"
	"github.com/coldbell/tradelens/backend/internal/ratelimit"
	"github.com/coldbell/tradelens/backend/internal/trade"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

type syncRequest struct {
	Wallet string `json:"wallet"`
}

type syncResponse struct {
	InsertedCount int    `json:"insertedCount"`
	SyncID        string `json:"syncId"`
}

type rateLimitResetRequest struct {
	Key string `json:"key"`
}

type rateLimitResetResponse struct {
	Key   string `json:"key"`
	Reset bool   `json:"reset"`
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondMethodNotAllowed(w)
		return
	}

	wallet := strings.TrimSpace(r.URL.Query().Get("wallet"))
	if wallet == "" && r.Body != nil && r.ContentLength != 0 {
		var request syncRequest
		if err := decodeJSONBody(r, &request); err != nil && !errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		wallet = strings.TrimSpace(request.Wallet)
	}

	result, err := s.limiter.Check(r.Context(), ratelimit.Key(wallet, clientAddr(r)))
	if err != nil {
		s.respondFailure(w, "check rate limit", trade.Unavailable("check rate limit", err))
		return
	}
	s.metrics.IncRateLimit(result.Allowed)
	setRateLimitHeaders(w, result)
	if !result.Allowed {
		s.respondFailure(w, "sync", &trade.RateLimitedError{RetryAfterSeconds: result.RetryAfterSeconds(s.now())})
		return
	}

	if wallet == "" {
		s.respondError(w, http.StatusBadRequest, "wallet is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SyncTimeout)
	defer cancel()
	synced, err := s.backend.Sync(ctx, wallet)
	if err != nil {
		s.respondFailure(w, "sync", err)
		return
	}
	s.respondJSON(w, http.StatusOK, syncResponse{InsertedCount: synced.InsertedCount, SyncID: synced.SyncID})
}

func setRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}
}

// clientAddr is the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer without its port.
func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func (s *Service) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	status, err := s.backend.SyncStatus(r.Context(), r.URL.Query().Get("wallet"))
	if err != nil {
		s.respondFailure(w, "get sync status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Service) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	filter, err := parseAnalyticsFilter(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	bundle, err := s.backend.Analytics(r.Context(), r.URL.Query().Get("wallet"), filter)
	if err != nil {
		s.respondFailure(w, "compute analytics", err)
		return
	}
	s.respondJSON(w, http.StatusOK, bundle)
}

func parseAnalyticsFilter(r *http.Request) (indexer.AnalyticsFilter, error) {
	start, err := parseOptionalDate(r, "startDate", false)
	if err != nil {
		return indexer.AnalyticsFilter{}, err
	}
	end, err := parseOptionalDate(r, "endDate", true)
	if err != nil {
		return indexer.AnalyticsFilter{}, err
	}
	return indexer.AnalyticsFilter{
		Symbol:    strings.TrimSpace(r.URL.Query().Get("symbol")),
		StartDate: start,
		EndDate:   end,
	}, nil
}

func (s *Service) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	limit, offset, err := parsePage(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	instrumentID, err := parseOptionalUint32(r, "instrumentId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	window, err := parseAnalyticsFilter(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	fills, err := s.backend.Trades(r.Context(), r.URL.Query().Get("wallet"), trade.Filter{
		Symbol:       window.Symbol,
		InstrumentID: instrumentID,
		Start:        window.StartDate,
		End:          window.EndDate,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		s.respondFailure(w, "list trades", err)
		return
	}
	s.respondJSON(w, http.StatusOK, listResponse[trade.Fill]{Items: fills, Limit: limit, Offset: offset})
}

func (s *Service) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	limit, offset, err := parsePage(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	days, err := s.backend.Sessions(r.Context(), r.URL.Query().Get("wallet"), limit, offset)
	if err != nil {
		s.respondFailure(w, "list sessions", err)
		return
	}
	if days == nil {
		days = []analytics.SessionDay{}
	}
	s.respondJSON(w, http.StatusOK, listResponse[analytics.SessionDay]{Items: days, Limit: limit, Offset: offset})
}

func (s *Service) handleInstruments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	s.respondJSON(w, http.StatusOK, s.backend.Instruments())
}

func (s *Service) handleRateLimitAdmin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		stats, err := s.limiter.Stats(r.Context())
		if err != nil {
			s.respondFailure(w, "read rate limit stats", trade.Unavailable("read rate limit stats", err))
			return
		}
		s.respondJSON(w, http.StatusOK, stats)
	case http.MethodDelete, http.MethodPost:
		key := strings.TrimSpace(r.URL.Query().Get("key"))
		if key == "" && r.Body != nil && r.ContentLength != 0 {
			var request rateLimitResetRequest
			if err := decodeJSONBody(r, &request); err != nil {
				s.respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			key = strings.TrimSpace(request.Key)
		}
		if key == "" {
			s.respondError(w, http.StatusBadRequest, "key is required")
			return
		}
		if err := s.limiter.Reset(r.Context(), key); err != nil {
			s.respondFailure(w, "reset rate limit", trade.Unavailable("reset rate limit", err))
			return
		}
		s.logger.Info("rate limit reset", "key", key)
		s.respondJSON(w, http.StatusOK, rateLimitResetResponse{Key: key, Reset: true})
	default:
		s.respondMethodNotAllowed(w)
	}
}

func parsePage(r *http.Request) (int, int, error) {
	limit, err := parseOptionalInt(r, "limit", defaultPageLimit)
	if err != nil {
		return 0, 0, err
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset, nil
}
