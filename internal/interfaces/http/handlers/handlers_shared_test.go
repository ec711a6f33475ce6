package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"x402-market.backend/internal/domain/entities"
	"x402-market.backend/internal/usecases"
)

const (
	testWallet = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	testEscrow = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testPayer  = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

// validAuthorization is shape-valid; handler tests never verify signatures.
func validAuthorization() *entities.PaymentAuthorization {
	return &entities.PaymentAuthorization{
		From:        testPayer,
		To:          testEscrow,
		Value:       "1000000",
		ValidAfter:  "1700000000",
		ValidBefore: "1700000600",
		Nonce:       "0x00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff",
		V:           27,
		R:           "0x1111111111111111111111111111111111111111111111111111111111111111",
		S:           "0x2222222222222222222222222222222222222222222222222222222222222222",
	}
}

func bareSignatureHeader(t *testing.T, auth *entities.PaymentAuthorization) string {
	t.Helper()
	raw, err := json.Marshal(auth)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func catalogFixture(id string) *usecases.CatalogEntry {
	return &usecases.CatalogEntry{
		Service: &entities.Service{
			ID:              id,
			Name:            "Weather API",
			Description:     "hourly forecasts",
			PriceBaseUnits:  "1000000",
			Kind:            entities.ServiceKindProxy,
			ProviderAddress: "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc",
			IsActive:        true,
		},
		PaymentRequirements: &entities.PaymentRequirements{
			Scheme:            "gasless",
			Network:           "eip155:71",
			MaxAmountRequired: "1000000",
			Resource:          "/gateway/" + id,
			PayTo:             "0x5fbdb2315678afecb367f032d93f642f64180aa3",
			MaxTimeoutSeconds: 300,
			Asset:             "0xe7f1725e7734ce288f8367e1bb143e90bb3f0512",
		},
		SigningInfo: &usecases.SigningInfo{
			Domain:      map[string]interface{}{"name": "Test USD", "version": "1"},
			PrimaryType: "ReceiveWithAuthorization",
			Endpoint:    "https://x402.example.com/gateway/" + id,
		},
	}
}
