package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
)

// StripeTransferClient moves funds to connected accounts via Stripe Connect.
type StripeTransferClient struct {
	api *client.API
}

func NewStripeTransferClient(secretKey string) (*StripeTransferClient, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, errors.New("stripe secret key is required")
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeTransferClient{api: api}, nil
}

func (c *StripeTransferClient) CreateTransfer(ctx context.Context, req ports.TransferRequest) (ports.TransferResult, error) {
	if req.AmountCents <= 0 {
		return ports.TransferResult{}, fmt.Errorf("%w: transfer amount must be positive", domain.ErrInvalidInput)
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(req.DestinationAccount),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("affiliate_id", req.AffiliateID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	tr, err := c.api.Transfers.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return ports.TransferResult{}, fmt.Errorf("stripe transfer %s: %s (%s)", stripeErr.Type, stripeErr.Msg, stripeErr.Code)
		}
		return ports.TransferResult{}, fmt.Errorf("stripe transfer: %w", err)
	}
	return ports.TransferResult{TransferID: tr.ID}, nil
}
