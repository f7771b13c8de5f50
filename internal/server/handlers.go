package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/sitepulse/internal/analytics"
	"github.com/dustin/sitepulse/internal/contact"
	"github.com/dustin/sitepulse/internal/sse"
)

var okResponse = map[string]bool{"ok": true}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("analytics tracking failed", "error", err)
		writeJSON(w, http.StatusOK, okResponse)
		return
	}
	in, err := analytics.DecodeInput(body)
	if err != nil {
		// Beacons must never surface errors to the page.
		slog.Warn("analytics tracking failed", "error", err)
		writeJSON(w, http.StatusOK, okResponse)
		return
	}
	in.ClientIP = extractIP(r)

	if err := s.deps.Ingestor.Ingest(r.Context(), in); errors.Is(err, analytics.ErrPathRequired) {
		writeError(w, http.StatusBadRequest, "Path is required")
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Aggregator.Stats(r.Context(), adminToken(r, false))
	switch {
	case errors.Is(err, analytics.ErrUnauthorized):
		s.recordStats("unauthorized")
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case err != nil:
		s.recordStats("error")
		slog.Error("analytics error", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch analytics")
	default:
		s.recordStats("ok")
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) recordStats(result string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordStats(result)
	}
}

// handleStream sends the current snapshot, then every stored event as it
// arrives, until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Aggregator.Authorized(adminToken(r, true)) {
		s.recordStats("unauthorized")
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	ch, cancel := s.deps.Hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snap, err := s.deps.Aggregator.Snapshot(r.Context())
	if err != nil {
		return
	}
	s.recordStats("ok")
	if buf, err := json.Marshal(snap); err == nil {
		sse.Event{Type: "snapshot", Payload: buf}.WriteTo(w)
	}
	flusher.Flush()

	keepAlive := time.NewTicker(s.streamKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if _, err := ev.WriteTo(w); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	ip := extractIP(r)
	if !s.contactLimiter.Allow(ip) {
		slog.Info("contact rate limit exceeded", "ip", ip)
		writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
		return
	}

	var msg contact.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		slog.Error("contact form error", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to send message. Please try again later.")
		return
	}

	provider, err := s.deps.Contact.Send(r.Context(), msg)
	var sendErr *contact.SendError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"message": "Email sent successfully via " + provider,
		})
	case errors.Is(err, contact.ErrFieldsRequired):
		writeError(w, http.StatusBadRequest, "All fields are required")
	case errors.Is(err, contact.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "Invalid email address")
	case errors.Is(err, contact.ErrRecipientMissing):
		writeError(w, http.StatusInternalServerError, "Email configuration missing")
	case errors.Is(err, contact.ErrNotConfigured):
		writeError(w, http.StatusInternalServerError, "Email service not configured. Please set up Brevo, SendGrid, or SMTP credentials.")
	case errors.As(err, &sendErr):
		writeError(w, http.StatusInternalServerError, "Failed to send email: "+sendErr.Err.Error())
	default:
		slog.Error("contact form error", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to send message. Please try again later.")
	}
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Content.Raw())
}
