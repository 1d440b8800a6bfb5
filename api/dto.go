package api

import (
	"time"

	"barterflow/catalog"
	"barterflow/content"
	"barterflow/deal"
	"barterflow/dispute"
	"barterflow/ledger"
	"barterflow/negotiation"
	"barterflow/review"
)

type proposeDealRequest struct {
	ProductID    string   `json:"product_id" validate:"required"`
	ContentValue string   `json:"content_value" validate:"required,numeric"`
	Deliverables []string `json:"deliverables" validate:"required,min=1,dive,required"`
	Message      string   `json:"message" validate:"max=2000"`
}

type counterOfferRequest struct {
	Message              string  `json:"message" validate:"max=2000"`
	ProposedContentValue *string `json:"proposed_content_value" validate:"omitempty,numeric"`
}

type shipmentRequest struct {
	TrackingNumber string `json:"tracking_number" validate:"required,max=128"`
	Carrier        string `json:"carrier" validate:"required,max=64"`
}

type confirmDeliveryRequest struct {
	Proof []string `json:"proof" validate:"omitempty,dive,required"`
}

type submitContentRequest struct {
	Files []string `json:"files" validate:"required,min=1,dive,required"`
}

type reviewContentRequest struct {
	Approved *bool  `json:"approved" validate:"required"`
	Notes    string `json:"notes" validate:"max=2000"`
}

type revisionRequest struct {
	Notes string `json:"notes" validate:"required,max=2000"`
}

type raiseDisputeRequest struct {
	Reason      string `json:"reason" validate:"required"`
	Description string `json:"description" validate:"required,max=4000"`
}

type resolveDisputeRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=RESUME CANCEL"`
	Notes   string `json:"notes" validate:"max=4000"`
}

type submitReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

type negotiationResponse struct {
	ID                   string     `json:"id"`
	SenderID             string     `json:"sender_id"`
	Message              string     `json:"message,omitempty"`
	ProposedContentValue *string    `json:"proposed_content_value,omitempty"`
	Status               string     `json:"status"`
	CreatedAt            time.Time  `json:"created_at"`
	DecidedAt            *time.Time `json:"decided_at,omitempty"`
	DecidedBy            string     `json:"decided_by,omitempty"`
}

type deliveryResponse struct {
	Status         string     `json:"status"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	Carrier        string     `json:"carrier,omitempty"`
	ShippedAt      *time.Time `json:"shipped_at,omitempty"`
	InTransitAt    *time.Time `json:"in_transit_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	DeliveryProof  []string   `json:"delivery_proof,omitempty"`
}

type contentResponse struct {
	Status        string     `json:"status"`
	Revision      int        `json:"revision"`
	Deliverables  []string   `json:"deliverables"`
	Files         []string   `json:"files"`
	RevisionNotes string     `json:"revision_notes,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
}

type disputeResponse struct {
	ID          string     `json:"id"`
	Reason      string     `json:"reason"`
	Description string     `json:"description"`
	RaisedBy    string     `json:"raised_by"`
	Status      string     `json:"status"`
	PriorStatus string     `json:"prior_status"`
	Outcome     string     `json:"outcome,omitempty"`
	Notes       string     `json:"resolution_notes,omitempty"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

type dealResponse struct {
	ID           string                `json:"id"`
	ProductID    string                `json:"product_id"`
	BrandID      string                `json:"brand_id"`
	CreatorID    string                `json:"creator_id"`
	Status       string                `json:"status"`
	ProductValue string                `json:"product_value"`
	ContentValue string                `json:"content_value"`
	Deliverables []string              `json:"deliverables"`
	Negotiations []negotiationResponse `json:"negotiations"`
	Delivery     *deliveryResponse     `json:"delivery,omitempty"`
	Content      *contentResponse      `json:"content,omitempty"`
	Dispute      *disputeResponse      `json:"dispute,omitempty"`
	Version      int64                 `json:"version"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

type dealListResponse struct {
	Items    []dealResponse `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type balanceResponse struct {
	ProductValue      string `json:"product_value"`
	ContentValue      string `json:"content_value"`
	Difference        string `json:"difference"`
	DifferencePercent string `json:"difference_percent"`
	IsBalanced        bool   `json:"is_balanced"`
}

type eventResponse struct {
	ID         string         `json:"id"`
	Seq        int            `json:"seq"`
	Kind       string         `json:"kind"`
	FromStatus string         `json:"from_status,omitempty"`
	ToStatus   string         `json:"to_status"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type revisionResponse struct {
	Number      int        `json:"number"`
	Files       []string   `json:"files"`
	Status      string     `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
}

type reviewResponse struct {
	ID         string    `json:"id"`
	ReviewerID string    `json:"reviewer_id"`
	RevieweeID string    `json:"reviewee_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type productResponse struct {
	ID             string `json:"id"`
	BrandID        string `json:"brand_id"`
	Name           string `json:"name"`
	EstimatedValue string `json:"estimated_value"`
}

func toNegotiationResponse(n negotiation.Negotiation) negotiationResponse {
	out := negotiationResponse{
		ID:        n.ID,
		SenderID:  n.SenderID,
		Message:   n.Message,
		Status:    string(n.Status),
		CreatedAt: n.CreatedAt,
		DecidedAt: n.DecidedAt,
		DecidedBy: n.DecidedBy,
	}
	if n.ProposedContentValue != nil {
		v := n.ProposedContentValue.String()
		out.ProposedContentValue = &v
	}
	return out
}

func toNegotiationResponses(items []negotiation.Negotiation) []negotiationResponse {
	out := make([]negotiationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, toNegotiationResponse(n))
	}
	return out
}

func toDealResponse(d deal.Deal) dealResponse {
	out := dealResponse{
		ID:           d.ID,
		ProductID:    d.ProductID,
		BrandID:      d.BrandID,
		CreatorID:    d.CreatorID,
		Status:       string(d.Status),
		ProductValue: d.ProductValue.StringFixed(2),
		ContentValue: d.ContentValue.StringFixed(2),
		Deliverables: d.Deliverables,
		Negotiations: toNegotiationResponses(d.Negotiations),
		Version:      d.Version,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if out.Deliverables == nil {
		out.Deliverables = []string{}
	}
	if dl := d.Delivery; dl != nil {
		out.Delivery = &deliveryResponse{
			Status:         string(dl.Status),
			TrackingNumber: dl.TrackingNumber,
			Carrier:        dl.Carrier,
			ShippedAt:      dl.ShippedAt,
			InTransitAt:    dl.InTransitAt,
			DeliveredAt:    dl.DeliveredAt,
			DeliveryProof:  dl.DeliveryProof,
		}
	}
	if c := d.Content; c != nil {
		out.Content = &contentResponse{
			Status:        string(c.Status),
			Revision:      c.Revision,
			Deliverables:  c.Deliverables,
			Files:         c.Files,
			RevisionNotes: c.RevisionNotes,
			SubmittedAt:   c.SubmittedAt,
			ReviewedAt:    c.ReviewedAt,
		}
	}
	if r := d.Dispute; r != nil {
		out.Dispute = toDisputeResponse(r)
	}
	return out
}

func toDisputeResponse(r *dispute.Record) *disputeResponse {
	out := &disputeResponse{
		ID:          r.ID,
		Reason:      string(r.Reason),
		Description: r.Description,
		RaisedBy:    r.RaisedBy,
		Status:      string(r.Status),
		PriorStatus: r.PriorStatus,
		CreatedAt:   r.CreatedAt,
		ResolvedAt:  r.ResolvedAt,
	}
	if res := r.Resolution; res != nil {
		out.Outcome = string(res.Outcome)
		out.Notes = res.Notes
		out.ResolvedBy = res.ResolvedBy
	}
	return out
}

func toBalanceResponse(b ledger.Balance) balanceResponse {
	return balanceResponse{
		ProductValue:      b.ProductValue.StringFixed(2),
		ContentValue:      b.ContentValue.StringFixed(2),
		Difference:        b.Difference.StringFixed(2),
		DifferencePercent: b.DifferencePercent.StringFixed(2),
		IsBalanced:        b.IsBalanced,
	}
}

func toEventResponses(events []deal.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:         e.ID,
			Seq:        e.Seq,
			Kind:       string(e.Kind),
			FromStatus: string(e.FromStatus),
			ToStatus:   string(e.ToStatus),
			ActorID:    e.ActorID,
			Payload:    e.Payload,
			OccurredAt: e.OccurredAt,
		})
	}
	return out
}

func toRevisionResponses(items []content.Revision) []revisionResponse {
	out := make([]revisionResponse, 0, len(items))
	for _, r := range items {
		out = append(out, revisionResponse{
			Number:      r.Number,
			Files:       r.Files,
			Status:      string(r.Status),
			Notes:       r.Notes,
			SubmittedAt: r.SubmittedAt,
			ReviewedAt:  r.ReviewedAt,
		})
	}
	return out
}

func toReviewResponse(r review.Review) reviewResponse {
	return reviewResponse{
		ID:         r.ID,
		ReviewerID: r.ReviewerID,
		RevieweeID: r.RevieweeID,
		Rating:     r.Rating,
		Comment:    r.Comment,
		CreatedAt:  r.CreatedAt,
	}
}

func toProductResponses(items []catalog.Product) []productResponse {
	out := make([]productResponse, 0, len(items))
	for _, p := range items {
		out = append(out, productResponse{
			ID:             p.ID,
			BrandID:        p.BrandID,
			Name:           p.Name,
			EstimatedValue: p.EstimatedValue.StringFixed(2),
		})
	}
	return out
}
