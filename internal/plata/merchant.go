package plata

import (
	"context"
	"errors"
	"net/http"
)

var ErrEmptyKey = errors.New("plata api: public key response has no key")

type MerchantService interface {
	// PublicKey returns the webhook verification key as served by the API:
	// base64 of a PEM encoded public key.
	PublicKey(ctx context.Context) (string, error)
}

type merchantService struct {
	client *Client
}

type publicKeyResponse struct {
	Key string `json:"key"`
}

func (s *merchantService) PublicKey(ctx context.Context) (string, error) {
	const path = "/api/merchant/pubkey"

	var resp publicKeyResponse
	if err := s.client.do(ctx, http.MethodGet, path, &resp); err != nil {
		return "", err
	}
	if resp.Key == "" {
		return "", ErrEmptyKey
	}
	return resp.Key, nil
}
