// Package business defines the Business (follow) identity at the core of
// the subscription fan-out engine: a (subject, bid) pair a caller wants
// server-pushed updates for.
package business

import "strconv"

// Business identifies a subject a caller wants to receive updates for, with
// an optional server-side routing selector (Bid). A nil Bid means the
// caller wants the subject's messages but does not need the server to
// explicitly route them -- no interest-notification call is made for it.
type Business struct {
	Subject string
	Bid     *string
}

// New constructs a Business with no bid.
func New(subject string) Business {
	return Business{Subject: subject}
}

// WithBid constructs a Business with a string bid.
func WithBid(subject, bid string) Business {
	return Business{Subject: subject, Bid: &bid}
}

// WithBidInt constructs a Business with a numeric bid, stored as its
// string representation since Bid is string|nil.
func WithBidInt(subject string, bid int64) Business {
	s := strconv.FormatInt(bid, 10)
	return Business{Subject: subject, Bid: &s}
}

// Identity returns the stable string identity "{subject}|{bid ?? \"\"}" used
// as a map key throughout the module. Two Business values with equal
// Identity are interchangeable.
func (b Business) Identity() string {
	bid := ""
	if b.Bid != nil {
		bid = *b.Bid
	}
	return b.Subject + "|" + bid
}

// HasBid reports whether the business carries a server-side routing
// selector, i.e. whether interest notifications apply to it.
func (b Business) HasBid() bool {
	return b.Bid != nil
}

// BidValue returns the bid string, or "" if none is set.
func (b Business) BidValue() string {
	if b.Bid == nil {
		return ""
	}
	return *b.Bid
}
