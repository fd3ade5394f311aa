// Package venue defines the price/execution venue the swap coordinator
// consumes, with a live HTTP implementation and a deterministic stub.
package venue

import (
	"context"
	"errors"

	"DCAVault/internal/model"
)

// ErrAmbiguous marks a submission whose request may have reached the venue
// but whose outcome was not observed.
var ErrAmbiguous = errors.New("submission outcome ambiguous")

// QuoteRequest asks for a conversion of Amount units of InputMint.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps uint16
}

// Venue quotes and executes conversions.
//
// Quote returns model.ErrNoRoute (wrapped) when the venue has no path, and a
// *model.VenueError for transport failures. Submit returns ErrAmbiguous
// (wrapped) when the outcome is unknown. Lookup returns (nil, nil) if no
// conversion for the quote ever landed.
type Venue interface {
	Name() string
	Quote(ctx context.Context, req QuoteRequest) (*model.Quote, error)
	Submit(ctx context.Context, q *model.Quote) (*model.Settlement, error)
	Lookup(ctx context.Context, quoteID string) (*model.Settlement, error)
}
