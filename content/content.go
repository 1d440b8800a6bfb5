// Package content implements the submission, approval and revision loop for
// the content a creator delivers against a deal.
package content

import (
	"errors"
	"sort"
	"strings"
	"time"
)

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusApproved          Status = "APPROVED"
	StatusRevisionRequested Status = "REVISION_REQUESTED"
)

var (
	ErrFilesRequired         = errors.New("content: at least one file reference required")
	ErrNotAwaitingSubmission = errors.New("content: not awaiting a submission")
	ErrNotUnderReview        = errors.New("content: not under review")
	ErrNotesRequired         = errors.New("content: revision notes required")
	ErrDeliverablesChanged   = errors.New("content: deliverables differ from the agreed set")
	ErrRevisionLimit         = errors.New("content: revision limit reached")
)

// Content is the latest submission for a deal.
type Content struct {
	Status        Status
	Revision      int
	Deliverables  []string
	Files         []string
	RevisionNotes string
	SubmittedAt   time.Time
	ReviewedAt    *time.Time
}

// Revision is one archived submission of the revision chain.
type Revision struct {
	Number      int
	Files       []string
	Status      Status
	Notes       string
	SubmittedAt time.Time
	ReviewedAt  *time.Time
}

// Policy bounds the review loop. MaxRevisions is the number of resubmissions
// allowed after the first submission; zero means unbounded.
type Policy struct {
	MaxRevisions int
}

// Submit produces the next submission. current is nil for the first one.
func Submit(current *Content, deliverables, files []string, policy Policy, now time.Time) (Content, error) {
	files = cleanRefs(files)
	if len(files) == 0 {
		return Content{}, ErrFilesRequired
	}

	next := 1
	if current != nil {
		if current.Status != StatusRevisionRequested {
			return Content{}, ErrNotAwaitingSubmission
		}
		if !sameSet(current.Deliverables, deliverables) {
			return Content{}, ErrDeliverablesChanged
		}
		if policy.MaxRevisions > 0 && current.Revision > policy.MaxRevisions {
			return Content{}, ErrRevisionLimit
		}
		next = current.Revision + 1
	}

	return Content{
		Status:       StatusPending,
		Revision:     next,
		Deliverables: append([]string(nil), deliverables...),
		Files:        files,
		SubmittedAt:  now,
	}, nil
}

// Approve accepts the pending submission.
func (c *Content) Approve(notes string, now time.Time) error {
	if c.Status != StatusPending {
		return ErrNotUnderReview
	}
	c.Status = StatusApproved
	c.RevisionNotes = strings.TrimSpace(notes)
	c.markReviewed(now)
	return nil
}

// RequestRevision sends the pending submission back to the creator.
func (c *Content) RequestRevision(notes string, now time.Time) error {
	if c.Status != StatusPending {
		return ErrNotUnderReview
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return ErrNotesRequired
	}
	c.Status = StatusRevisionRequested
	c.RevisionNotes = notes
	c.markReviewed(now)
	return nil
}

func (c *Content) markReviewed(now time.Time) {
	at := now
	c.ReviewedAt = &at
}

// Snapshot returns the revision chain entry for the current submission.
func (c *Content) Snapshot() Revision {
	return Revision{
		Number:      c.Revision,
		Files:       append([]string(nil), c.Files...),
		Status:      c.Status,
		Notes:       c.RevisionNotes,
		SubmittedAt: c.SubmittedAt,
		ReviewedAt:  cloneTime(c.ReviewedAt),
	}
}

// Clone returns a deep copy.
func (c *Content) Clone() *Content {
	if c == nil {
		return nil
	}
	out := *c
	out.Deliverables = append([]string(nil), c.Deliverables...)
	out.Files = append([]string(nil), c.Files...)
	out.ReviewedAt = cloneTime(c.ReviewedAt)
	return &out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func cleanRefs(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
