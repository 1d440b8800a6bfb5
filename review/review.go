// Package review holds the ratings parties leave each other once a deal completes.
package review

import (
	"errors"
	"strings"
	"time"
)

const (
	MinRating = 1
	MaxRating = 5

	maxCommentLen = 2000
)

var (
	ErrInvalidRating   = errors.New("review: rating must be between 1 and 5")
	ErrCommentTooLong  = errors.New("review: comment too long")
	ErrSelfReview      = errors.New("review: reviewer and reviewee must differ")
	ErrReviewerMissing = errors.New("review: reviewer required")
)

type Review struct {
	ID         string
	DealID     string
	ReviewerID string
	RevieweeID string
	Rating     int
	Comment    string
	CreatedAt  time.Time
}

type Params struct {
	ID         string
	DealID     string
	ReviewerID string
	RevieweeID string
	Rating     int
	Comment    string
}

func New(p Params, now time.Time) (Review, error) {
	if strings.TrimSpace(p.ReviewerID) == "" {
		return Review{}, ErrReviewerMissing
	}
	if p.ReviewerID == p.RevieweeID {
		return Review{}, ErrSelfReview
	}
	if p.Rating < MinRating || p.Rating > MaxRating {
		return Review{}, ErrInvalidRating
	}
	comment := strings.TrimSpace(p.Comment)
	if len(comment) > maxCommentLen {
		return Review{}, ErrCommentTooLong
	}
	return Review{
		ID:         p.ID,
		DealID:     p.DealID,
		ReviewerID: p.ReviewerID,
		RevieweeID: p.RevieweeID,
		Rating:     p.Rating,
		Comment:    comment,
		CreatedAt:  now,
	}, nil
}
