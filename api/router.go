// Package api exposes the deal service over JSON/HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"barterflow/auth"
	"barterflow/catalog"
	"barterflow/deal"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// ProductLister serves the catalog browse endpoint.
type ProductLister interface {
	List(ctx context.Context, brandID string, limit int) ([]catalog.Product, error)
}

// TokenVerifier turns a bearer token into a caller identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type Handler struct {
	deals    *deal.Service
	products ProductLister
	tokens   TokenVerifier
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(deals *deal.Service, products ProductLister, tokens TokenVerifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		deals:    deals,
		products: products,
		tokens:   tokens,
		validate: v,
		logger:   logger,
	}
}

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(h.recoverMiddleware)
	r.Use(h.loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeSuccess(w, http.StatusOK, map[string]string{"state": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.authMiddleware)

		r.Get("/products", h.listProducts)

		r.Post("/deals", h.proposeDeal)
		r.Get("/deals", h.listDeals)
		r.Route("/deals/{dealID}", func(r chi.Router) {
			r.Get("/", h.getDeal)
			r.Get("/balance", h.getBalance)
			r.Get("/history", h.getHistory)
			r.Post("/reject", h.rejectDeal)

			r.Get("/negotiations", h.listNegotiations)
			r.Post("/negotiations", h.counterOffer)
			r.Post("/negotiations/{negotiationID}/accept", h.acceptNegotiation)
			r.Post("/negotiations/{negotiationID}/reject", h.rejectNegotiation)

			r.Post("/shipment", h.markShipped)
			r.Post("/shipment/in-transit", h.markInTransit)
			r.Post("/delivery/confirm", h.confirmDelivery)

			r.Post("/content", h.submitContent)
			r.Get("/content/revisions", h.listRevisions)
			r.Post("/content/review", h.reviewContent)
			r.Post("/content/revision", h.requestRevision)
			r.Post("/complete", h.completeDeal)

			r.Post("/dispute", h.raiseDispute)
			r.Post("/dispute/review", h.startDisputeReview)
			r.Post("/dispute/resolve", h.resolveDispute)
			r.Post("/dispute/withdraw", h.withdrawDispute)

			r.Get("/reviews", h.listReviews)
			r.Post("/reviews", h.submitReview)
		})
	})

	return r
}
