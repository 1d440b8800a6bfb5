package api

import (
	"net/http"
	"strconv"
	"strings"

	"barterflow/deal"
	"barterflow/dispute"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func actorOf(r *http.Request) deal.Actor {
	return identityFromContext(r.Context()).Actor()
}

func parseIntDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// writeDeal answers a mutation or read with the deal representation.
func (h *Handler) writeDeal(w http.ResponseWriter, r *http.Request, operation string, statusCode int, d deal.Deal, err error) {
	if err != nil {
		h.writeMappedError(w, r, operation, err)
		return
	}
	writeSuccess(w, statusCode, toDealResponse(d))
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	items, err := h.products.List(r.Context(), r.URL.Query().Get("brand_id"), limit)
	if err != nil {
		h.writeMappedError(w, r, "list_products", err)
		return
	}
	writeSuccess(w, http.StatusOK, toProductResponses(items))
}

func (h *Handler) proposeDeal(w http.ResponseWriter, r *http.Request) {
	const operation = "propose_deal"
	var req proposeDealRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, operation, err)
		return
	}
	value, err := decimal.NewFromString(req.ContentValue)
	if err != nil {
		h.writeValidationError(w, r, operation, err)
		return
	}
	actor := actorOf(r)
	d, err := h.deals.ProposeDeal(r.Context(), actor, deal.ProposeParams{
		ProductID:    req.ProductID,
		CreatorID:    actor.UserID,
		ContentValue: value,
		Deliverables: req.Deliverables,
		Message:      req.Message,
	})
	h.writeDeal(w, r, operation, http.StatusCreated, d, err)
}

func (h *Handler) listDeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := deal.ListFilter{
		PartyID:  q.Get("party_id"),
		Status:   deal.Status(strings.ToUpper(q.Get("status"))),
		Page:     parseIntDefault(q.Get("page"), 1),
		PageSize: parseIntDefault(q.Get("page_size"), 20),
	}
	res, err := h.deals.ListDeals(r.Context(), actorOf(r), filter)
	if err != nil {
		h.writeMappedError(w, r, "list_deals", err)
		return
	}
	filter = filter.Normalize()
	out := dealListResponse{
		Items:    make([]dealResponse, 0, len(res.Items)),
		Total:    res.Total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}
	for _, d := range res.Items {
		out.Items = append(out.Items, toDealResponse(d))
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *Handler) getDeal(w http.ResponseWriter, r *http.Request) {
	d, err := h.deals.GetDeal(r.Context(), actorOf(r), chi.URLParam(r, "dealID"))
	h.writeDeal(w, r, "get_deal", http.StatusOK, d, err)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.deals.Balance(r.Context(), actorOf(r), chi.URLParam(r, "dealID"))
	if err != nil {
		h.writeMappedError(w, r, "get_balance", err)
		return
	}
	writeSuccess(w, http.StatusOK, toBalanceResponse(b))
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.deals.History(r.Context(), actorOf(r), chi.URLParam(r, "dealID"))
	if err != nil {
		h.writeMappedError(w, r, "get_history", err)
		return
	}
	writeSuccess(w, http.StatusOK, toEventResponses(events))
}

func (h *Handler) rejectDeal(w http.ResponseWriter, r *http.Request) {
	d, err := h.deals.RejectDeal(r.Context(), actorOf(r), chi.URLParam(r, "dealID"))
	h.writeDeal(w, r, "reject_deal", http.StatusOK, d, err)
}

func (h *Handler) listNegotiations(w http.ResponseWriter, r *http.Request) {
	items, err := h.deals.ListNegotiations(r.Context(), actorOf(r), chi.URLParam(r, "dealID"))
	if err != nil {
		h.writeMappedError(w, r, "list_negotiations", err)
		return
	}
	writeSuccess(w, http.StatusOK, toNegotiationResponses(items))
}

func (h *Handler) counterOffer(w http.ResponseWriter, r *http.Request) {
	const operation = "counter_offer"
	var req counterOfferRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, operation, err)
		return
	}
	var value *decimal.Decimal
	if req.ProposedContentValue != nil {
		v, err := decimal.NewFromString(*req.ProposedContentValue)
		if err != nil {
			h.writeValidationError(w, r, operation, err)
			return
		}
		value = &v
	}
	d, err := h.deals.CounterOffer(r.Context(), actorOf(r), chi.URLParam(r, "dealID"), req.Message, value)
	h.writeDeal(w, r, operation, http.StatusCreated, d, err)
}

func (h *Handler) acceptNegotiation(w http.ResponseWriter, r *http.Request) {
	d, err := h.deals.AcceptNegotiation(r.Context(), actorOf(r), chi.URLParam(r, "dealID"), chi.URLParam(r, "negotiationID"))
	h.writeDeal(w, r, "accept_negotiation", http.StatusOK, d, err)
}

func (h *Handler) rejectNegotiation(w http.ResponseWriter, r *http.Request) {
	d, err := h.deals.RejectNegotiation(r.Context(), actorOf(r), chi.URLParam(r, "dealID"), chi.URLParam(r, "negotiationID"))
	h.writeDeal(w, r, "reject_negotiation", http.StatusOK, d, err)
}

func (h *Handler) markShipped(w http.ResponseWriter, r *http.Request) {
	const operation = "mark_shipped"
	var req shipmentRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, operation, err)
		return
	}
	d, err := h.deals.MarkShipped(r.Context(), actorOf(r), chi.URLParam(r, "dealID"), req.TrackingNumber, req.Carrier)
	h.writeDeal(w, r, operation, http.StatusOK, d, err)
}

func (h *Handler) markInTransit(w http.ResponseWriter, r *http.Request) {
	d, err := h.deals.MarkInTransit(r.Context(), actorOf(r), chi.URLParam(r, "dealID"))
	h.writeDeal(w, r, "mark_in_transit", http.StatusOK, d, err)
}

func (h *Handler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	const operation = "confirm_delivery"
	var req confirmDeliveryRequest
	if err := h.decodeOptionalBody(r, &req); err != nil {
		h.writeValidationError(w, r, operation, err)
		return
	}
	d, err := h.deals.ConfirmDelivery(r.Context(), actorOf(r), chi.URLParam(r, "dealID"), req.Proof)
	h.writeDeal(w, r, operation, http.StatusOK, d, err)
}

func (h *Handler) submitContent(w http.ResponseWriter, r *http.Request) {
	const operation = "submit_content"
	var req submitContentRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, operation, err)
		return
	}
	d, err := h.deals.SubmitContent(r.Context(), actorOf(r), chi.URLParam(r, "dealID"), req.Files)
	h.writeDeal(w, r, operation, http.StatusOK, d, err)
}

func (h *Handler) listRevisions(w http.ResponseWriter, r *http.Request) {
	items, err := h.deals.ListRevisions(r.Context(), actorOf(r), chi.URLParam(r, "dealID"))
	if err != nil {
		h.writeMappedError(w, r, "list_revisions", err)
		return
	}
	writeSuccess(w, http.StatusOK, toRevisionResponses(items))
}

func (h *Handler) reviewContent(w http.ResponseWriter, r *http.Request) {
	const operation = "review_content"
	var req reviewContentRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, operation, err)
		return
	}
	d, err := h.deals.ReviewContent(r.Context(), actorOf(r), chi.URLParam(r, "dealID"), *req.Approved, req.Notes)
	h.writeDeal(w, r, operation, http.StatusOK, d, err)
}

func (h *Handler) requestRevision(w http.ResponseWriter, r *http.Request) {
	const operation = "request_revision"
	var req revisionRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, operation, err)
		return
	}
	d, err := h.deals.RequestRevision(r.Context(), actorOf(r), chi.URLParam(r, "dealID"), req.Notes)
	h.writeDeal(w, r, operation, http.StatusOK, d, err)
}

func (h *Handler) completeDeal(w http.ResponseWriter, r *http.Request) {
	d, err := h.deals.CompleteDeal(r.Context(), actorOf(r), chi.URLParam(r, "dealID"))
	h.writeDeal(w, r, "complete_deal", http.StatusOK, d, err)
}

func (h *Handler) raiseDispute(w http.ResponseWriter, r *http.Request) {
	const operation = "raise_dispute"
	var req raiseDisputeRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, operation, err)
		return
	}
	reason, err := dispute.ParseReason(req.Reason)
	if err != nil {
		h.writeValidationError(w, r, operation, err)
		return
	}
	d, err := h.deals.RaiseDispute(r.Context(), actorOf(r), chi.URLParam(r, "dealID"), reason, req.Description)
	h.writeDeal(w, r, operation, http.StatusOK, d, err)
}

func (h *Handler) startDisputeReview(w http.ResponseWriter, r *http.Request) {
	d, err := h.deals.StartDisputeReview(r.Context(), actorOf(r), chi.URLParam(r, "dealID"))
	h.writeDeal(w, r, "start_dispute_review", http.StatusOK, d, err)
}

func (h *Handler) resolveDispute(w http.ResponseWriter, r *http.Request) {
	const operation = "resolve_dispute"
	var req resolveDisputeRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, operation, err)
		return
	}
	outcome, err := dispute.ParseOutcome(req.Outcome)
	if err != nil {
		h.writeValidationError(w, r, operation, err)
		return
	}
	d, err := h.deals.ResolveDispute(r.Context(), actorOf(r), chi.URLParam(r, "dealID"), dispute.Resolution{
		Outcome: outcome,
		Notes:   req.Notes,
	})
	h.writeDeal(w, r, operation, http.StatusOK, d, err)
}

func (h *Handler) withdrawDispute(w http.ResponseWriter, r *http.Request) {
	d, err := h.deals.WithdrawDispute(r.Context(), actorOf(r), chi.URLParam(r, "dealID"))
	h.writeDeal(w, r, "withdraw_dispute", http.StatusOK, d, err)
}

func (h *Handler) listReviews(w http.ResponseWriter, r *http.Request) {
	items, err := h.deals.ListReviews(r.Context(), actorOf(r), chi.URLParam(r, "dealID"))
	if err != nil {
		h.writeMappedError(w, r, "list_reviews", err)
		return
	}
	out := make([]reviewResponse, 0, len(items))
	for _, rv := range items {
		out = append(out, toReviewResponse(rv))
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *Handler) submitReview(w http.ResponseWriter, r *http.Request) {
	const operation = "submit_review"
	var req submitReviewRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeValidationError(w, r, operation, err)
		return
	}
	rv, err := h.deals.SubmitReview(r.Context(), actorOf(r), chi.URLParam(r, "dealID"), req.Rating, req.Comment)
	if err != nil {
		h.writeMappedError(w, r, operation, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toReviewResponse(rv))
}
