package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"price-guard/pkg/api"
	"price-guard/pkg/logger"
	"price-guard/pkg/models"
	"price-guard/pkg/queue"
	"price-guard/pkg/token"
	"price-guard/pkg/verify"

	scalargo "github.com/bdpiprava/scalar-go"
)

type server struct {
	engine   *verify.Engine
	queue    *queue.Queue
	adapters []string
	logger   *slog.Logger
	docsDir  string
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.docsHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("GET /catalogs/{type}", s.catalogHandler)
	mux.HandleFunc("POST /catalogs/{type}/verify", s.verifyCatalogHandler)
	mux.HandleFunc("POST /verify/all", s.verifyAllHandler)
	mux.HandleFunc("POST /offers/{offerID}/verify", s.verifyOfferHandler)
	mux.HandleFunc("GET /go/{offerID}", s.clickHandler)
	mux.HandleFunc("POST /go/{offerID}/confirm", s.confirmHandler)
	mux.HandleFunc("GET /metrics/verification", s.metricsHandler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		api.WriteNotFound(w, "No route for "+r.Method+" "+r.URL.Path, r.URL.Path)
	})
	return logger.Middleware(s.logger, mux)
}

func (s *server) docsHandler(w http.ResponseWriter, r *http.Request) {
	html, err := scalargo.NewV2(
		scalargo.WithSpecDir(s.docsDir),
		scalargo.WithMetaDataOpts(
			scalargo.WithTitle("Price Guard API"),
		),
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"status":   "ok",
		"queue":    s.queue.Stats(),
		"adapters": s.adapters,
	})
}

func (s *server) catalogHandler(w http.ResponseWriter, r *http.Request) {
	productType := r.PathValue("type")
	visibility, err := verify.ParseVisibility(r.URL.Query().Get("visibility"))
	if err != nil {
		api.WriteBadRequest(w, "Invalid visibility. Available: all, verified, fresh", r.URL.Path)
		return
	}
	view, err := s.engine.PrepareCatalogForResponse(r.Context(), productType, verify.ViewOptions{StoreVisibility: visibility})
	if err != nil {
		if errors.Is(err, models.ErrCatalogNotFound) {
			api.WriteNotFound(w, fmt.Sprintf("Catalog %s not found", productType), r.URL.Path)
			return
		}
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, view)
}

func (s *server) verifyOfferHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.VerifyOfferByID(r.Context(), r.PathValue("offerID"), verify.Options{
		Trigger: verify.TriggerManual,
		Force:   flagParam(r, "force"),
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if res.Code == models.CodeOfferNotFound {
		api.WriteCodedError(w, http.StatusNotFound, res.Code, "Offer not found", r.URL.Path)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

func (s *server) verifyCatalogHandler(w http.ResponseWriter, r *http.Request) {
	opts, ok := batchOptions(w, r)
	if !ok {
		return
	}
	productType := r.PathValue("type")
	summary, err := s.engine.VerifyCatalogOffers(r.Context(), productType, opts)
	if err != nil {
		if errors.Is(err, models.ErrCatalogNotFound) {
			api.WriteNotFound(w, fmt.Sprintf("Catalog %s not found", productType), r.URL.Path)
			return
		}
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, summary)
}

func (s *server) verifyAllHandler(w http.ResponseWriter, r *http.Request) {
	opts, ok := batchOptions(w, r)
	if !ok {
		return
	}
	summary, err := s.engine.VerifyAllOffers(r.Context(), opts)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, summary)
}

func (s *server) clickHandler(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Click(r.Context(), r.PathValue("offerID"), r.URL.Query().Get("t"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeClick(w, r, out)
}

func (s *server) confirmHandler(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Confirm(r.Context(), r.PathValue("offerID"), r.URL.Query().Get("c"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeClick(w, r, out)
}

// writeClick turns a click result into a redirect, a confirmation prompt or
// a refusal. JSON clients get the result document instead of a redirect.
func (s *server) writeClick(w http.ResponseWriter, r *http.Request, out *verify.ClickResult) {
	switch {
	case out.Code == models.CodeOfferNotFound:
		api.WriteCodedError(w, http.StatusNotFound, out.Code, "Offer not found", r.URL.Path)
	case out.NeedsConfirm, out.Code == models.CodePriceChanged:
		s.writeJSON(w, r, http.StatusConflict, out)
	case out.RedirectURL == "":
		api.WriteCodedError(w, http.StatusForbidden, out.Code, "Redirect blocked: "+out.Message, r.URL.Path)
	case wantsJSON(r):
		s.writeJSON(w, r, http.StatusOK, out)
	default:
		http.Redirect(w, r, out.RedirectURL, http.StatusFound)
	}
}

func (s *server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			api.WriteBadRequest(w, fmt.Sprintf("Invalid hours: %s. Must be a positive integer.", v), r.URL.Path)
			return
		}
		hours = n
	}
	m, err := s.engine.GetVerificationMetrics(r.Context(), hours)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, m)
}

// writeFailure maps engine errors to problem documents.
func (s *server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if code := token.CodeOf(err); code != "" {
		api.WriteCodedError(w, http.StatusBadRequest, code, "Price token rejected", r.URL.Path)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		api.WriteCodedError(w, http.StatusGatewayTimeout, models.CodeTimeout, "Verification timed out", r.URL.Path)
		return
	}
	if errors.Is(err, queue.ErrClosed) {
		api.WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Shutting down", r.URL.Path)
		return
	}
	s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	var ve *models.VerifyError
	if errors.As(err, &ve) {
		api.WriteCodedError(w, http.StatusInternalServerError, ve.Code, ve.Message, r.URL.Path)
		return
	}
	api.WriteInternalServerError(w, err, r.URL.Path)
}

func (s *server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	if err := api.WriteJSON(w, status, v); err != nil {
		s.logger.Error("encoding response", "path", r.URL.Path, "error", err)
	}
}

func batchOptions(w http.ResponseWriter, r *http.Request) (verify.BatchOptions, bool) {
	opts := verify.BatchOptions{Trigger: verify.TriggerBatch, Force: flagParam(r, "force")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			api.WriteBadRequest(w, fmt.Sprintf("Invalid limit: %s. Must be a non-negative integer.", v), r.URL.Path)
			return opts, false
		}
		opts.Limit = n
	}
	return opts, true
}

func flagParam(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
