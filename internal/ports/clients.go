package ports

import "context"

type AuthClaims struct {
	UserID string
	Role   string
	Valid  bool
}

type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (AuthClaims, error)
}

type SecretVerifier interface {
	VerifySecret(secret string) bool
}

type TransferRequest struct {
	AffiliateID        string
	DestinationAccount string
	AmountCents        int64
	Currency           string
	IdempotencyKey     string
	Metadata           map[string]string
}

type TransferResult struct {
	TransferID string
}

// TransferClient moves money to an affiliate's connected account. Calls with
// the same IdempotencyKey must not create a second transfer.
type TransferClient interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error)
}
