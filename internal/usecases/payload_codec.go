package usecases

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"x402-market.backend/internal/domain/entities"
	domainerrors "x402-market.backend/internal/domain/errors"
)

// DecodePaymentHeader decodes a payment-signature header value. Signatures
// arrive either in tunnel mode, base64(JSON{x402Version, accepted, proof})
// with proof itself base64(JSON(signature tuple)), or as a bare base64 JSON
// signature object. The echoed accepted block is returned for the caller to
// check against the issued requirements.
func DecodePaymentHeader(header string) (*entities.PaymentAuthorization, *entities.PaymentRequirements, error) {
	raw, err := decodeBase64(header)
	if err != nil {
		return nil, nil, domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, "payment-signature is not valid base64")
	}

	var envelope entities.TunnelEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil, domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, "payment-signature is not valid JSON")
	}

	// Tunnel mode carries the signature inside proof. Without one, the outer
	// object is the signature itself.
	if envelope.Proof != "" {
		inner, err := decodeBase64(envelope.Proof)
		if err != nil {
			return nil, nil, domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, "proof is not valid base64")
		}
		auth := &entities.PaymentAuthorization{}
		if err := json.Unmarshal(inner, auth); err != nil {
			return nil, nil, domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, "proof is not a valid signature object")
		}
		if err := validateAuthorizationShape(auth); err != nil {
			return nil, nil, err
		}
		return auth, envelope.Accepted, nil
	}

	auth := &entities.PaymentAuthorization{}
	if err := json.Unmarshal(raw, auth); err != nil {
		return nil, nil, domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, "payment-signature is not a valid signature object")
	}
	if err := validateAuthorizationShape(auth); err != nil {
		return nil, nil, err
	}
	return auth, envelope.Accepted, nil
}

// EncodeTunnelHeader is the inverse of DecodePaymentHeader for tunnel mode.
// Production signers live client-side; this exists for the agent execute
// path and tests.
func EncodeTunnelHeader(accepted *entities.PaymentRequirements, auth *entities.PaymentAuthorization) (string, error) {
	inner, err := json.Marshal(auth)
	if err != nil {
		return "", err
	}
	envelope := entities.TunnelEnvelope{
		X402Version: entities.X402Version,
		Accepted:    accepted,
		Proof:       base64.StdEncoding.EncodeToString(inner),
	}
	outer, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(outer), nil
}

func validateAuthorizationShape(auth *entities.PaymentAuthorization) error {
	missing := func(field string) error {
		return domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, "signature missing field "+field)
	}
	switch {
	case !isHexAddress(auth.From):
		return missing("from")
	case !isHexAddress(auth.To):
		return missing("to")
	case strings.TrimSpace(auth.Value) == "":
		return missing("value")
	case strings.TrimSpace(auth.ValidAfter) == "":
		return missing("validAfter")
	case strings.TrimSpace(auth.ValidBefore) == "":
		return missing("validBefore")
	case strings.TrimSpace(auth.Nonce) == "":
		return missing("nonce")
	case auth.R == "" || auth.S == "":
		return missing("r/s")
	}
	if auth.V != 0 && auth.V != 1 && auth.V != 27 && auth.V != 28 {
		return domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, "signature v must be 0, 1, 27 or 28")
	}
	if _, err := parseBytes32(auth.Nonce); err != nil {
		return domainerrors.Payment(http.StatusBadRequest, domainerrors.KindInvalidPayload, "nonce must be 32-byte hex")
	}
	return nil
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if out, err := enc.DecodeString(s); err == nil {
			return out, nil
		}
	}
	return nil, base64.CorruptInputError(0)
}
