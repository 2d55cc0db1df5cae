package pix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	pixdto "github.com/radieske/pix-deposit-service/internal/deposit-service/pix/dto"
)

// HTTPGenerator cria a cobrança no provedor PIX e usa o QR code devolvido
type HTTPGenerator struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPGenerator(base string) *HTTPGenerator {
	return &HTTPGenerator{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, r ChargeRequest) (Charge, error) {
	body, _ := json.Marshal(pixdto.ChargeRequest{
		Amount:      r.Amount.StringFixed(2),
		Description: r.Description,
		ExternalID:  r.ExternalID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/pix/charges", bytes.NewReader(body))
	if err != nil {
		return Charge{}, fmt.Errorf("%w: %w", ErrGenerate, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+r.Credential)
	}

	res, err := g.HTTP.Do(req)
	if err != nil {
		return Charge{}, fmt.Errorf("%w: %w", ErrGenerate, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return Charge{}, fmt.Errorf("%w: provider http %d", ErrGenerate, res.StatusCode)
	}

	var out pixdto.ChargeResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Charge{}, fmt.Errorf("%w: decode: %w", ErrGenerate, err)
	}
	if out.QRCode == "" {
		return Charge{}, fmt.Errorf("%w: empty qr code", ErrGenerate)
	}
	return Charge{QRCode: out.QRCode, ChargeID: out.ChargeID}, nil
}
