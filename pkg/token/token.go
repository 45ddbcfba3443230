// Package token issues and verifies signed, expiring tokens binding a
// displayed price to an offer, and tokens acknowledging a price change.
//
// Wire format: base64url(JCS(payload)) + "." + base64url(HMAC-SHA256(secret, first segment)).
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"price-guard/pkg/models"

	"github.com/gowebpki/jcs"
)

const (
	PurposePrice   = "price"
	PurposeConfirm = "confirm"
)

const (
	CodeMissing          = "TOKEN_MISSING"
	CodeInvalid          = "TOKEN_INVALID"
	CodeSignatureInvalid = "TOKEN_SIGNATURE_INVALID"
	CodeExpired          = "TOKEN_EXPIRED"
	CodePurposeMismatch  = "TOKEN_PURPOSE_MISMATCH"
	CodeOfferMismatch    = "TOKEN_OFFER_MISMATCH"
	CodePriceInvalid     = "TOKEN_PRICE_INVALID"
)

const (
	DefaultConfirmTTL     = time.Minute
	defaultPriceTokenTTL  = 10 * time.Minute
	minimumSecretByteSize = 16
)

// Error is a token rejection carrying the precise reason.
type Error struct {
	Code string
}

func (e *Error) Error() string {
	return "token: " + strings.ToLower(strings.TrimPrefix(e.Code, "TOKEN_"))
}

// CodeOf returns the token error code of err, or "".
func CodeOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// ErrNotClaimable is returned when a price token is requested for an offer
// that is not verified_fresh.
var ErrNotClaimable = errors.New("token: offer price is not claimable")

type PricePayload struct {
	Purpose     string `json:"purpose"`
	OfferID     string `json:"offer_id"`
	ListedPrice int64  `json:"listed_price"`
	VerifiedAt  int64  `json:"verified_at"`
	Exp         int64  `json:"exp"`
}

type ConfirmPayload struct {
	Purpose  string `json:"purpose"`
	OfferID  string `json:"offer_id"`
	OldPrice int64  `json:"old_price"`
	NewPrice int64  `json:"new_price"`
	Exp      int64  `json:"exp"`
}

type Options struct {
	Secret     []byte
	PriceTTL   time.Duration
	ConfirmTTL time.Duration
	Now        func() time.Time
}

type Service struct {
	secret     []byte
	priceTTL   time.Duration
	confirmTTL time.Duration
	now        func() time.Time
}

func New(opts Options) (*Service, error) {
	if len(opts.Secret) < minimumSecretByteSize {
		return nil, fmt.Errorf("token: secret must be at least %d bytes", minimumSecretByteSize)
	}
	s := &Service{
		secret:     append([]byte(nil), opts.Secret...),
		priceTTL:   opts.PriceTTL,
		confirmTTL: opts.ConfirmTTL,
		now:        opts.Now,
	}
	if s.priceTTL <= 0 {
		s.priceTTL = defaultPriceTokenTTL
	}
	if s.confirmTTL <= 0 {
		s.confirmTTL = DefaultConfirmTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// RandomSecret returns a fresh per-process signing secret.
func RandomSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("token: generate secret: %w", err)
	}
	return b, nil
}

func (s *Service) PriceTTL() time.Duration { return s.priceTTL }

// IssuePrice signs the offer's display price. The offer must already carry
// its derived state and be verified_fresh.
func (s *Service) IssuePrice(o *models.Offer) (string, error) {
	if o == nil || o.PriceState != models.PriceVerifiedFresh || o.DisplayPrice == nil || *o.DisplayPrice <= 0 || o.VerifiedAt == nil {
		return "", ErrNotClaimable
	}
	return s.sign(PricePayload{
		Purpose:     PurposePrice,
		OfferID:     o.OfferID,
		ListedPrice: *o.DisplayPrice,
		VerifiedAt:  o.VerifiedAt.Unix(),
		Exp:         s.now().Add(s.priceTTL).Unix(),
	})
}

// VerifyPrice checks signature, purpose, the optional offer binding, expiry
// and a positive price, in that order.
func (s *Service) VerifyPrice(tok, offerID string) (*PricePayload, error) {
	var p PricePayload
	if err := s.open(tok, &p); err != nil {
		return nil, err
	}
	if err := s.check(p.Purpose, PurposePrice, p.OfferID, offerID, p.Exp); err != nil {
		return nil, err
	}
	if p.ListedPrice <= 0 {
		return nil, &Error{Code: CodePriceInvalid}
	}
	return &p, nil
}

func (s *Service) IssueConfirm(offerID string, oldPrice, newPrice int64) (string, error) {
	if newPrice <= 0 {
		return "", &Error{Code: CodePriceInvalid}
	}
	return s.sign(ConfirmPayload{
		Purpose:  PurposeConfirm,
		OfferID:  offerID,
		OldPrice: oldPrice,
		NewPrice: newPrice,
		Exp:      s.now().Add(s.confirmTTL).Unix(),
	})
}

func (s *Service) VerifyConfirm(tok, offerID string) (*ConfirmPayload, error) {
	var p ConfirmPayload
	if err := s.open(tok, &p); err != nil {
		return nil, err
	}
	if err := s.check(p.Purpose, PurposeConfirm, p.OfferID, offerID, p.Exp); err != nil {
		return nil, err
	}
	if p.NewPrice <= 0 {
		return nil, &Error{Code: CodePriceInvalid}
	}
	return &p, nil
}

func (s *Service) check(purpose, wantPurpose, offerID, wantOfferID string, exp int64) error {
	if purpose != wantPurpose {
		return &Error{Code: CodePurposeMismatch}
	}
	if wantOfferID != "" && offerID != wantOfferID {
		return &Error{Code: CodeOfferMismatch}
	}
	if s.now().Unix() >= exp {
		return &Error{Code: CodeExpired}
	}
	return nil
}

func (s *Service) sign(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("token: marshal payload: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("token: canonicalize payload: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(canon)
	return body + "." + base64.RawURLEncoding.EncodeToString(s.mac(body)), nil
}

func (s *Service) open(tok string, into any) error {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return &Error{Code: CodeMissing}
	}
	body, sig, ok := strings.Cut(tok, ".")
	if !ok || body == "" || sig == "" || strings.Contains(sig, ".") {
		return &Error{Code: CodeInvalid}
	}
	gotMAC, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return &Error{Code: CodeInvalid}
	}
	if !hmac.Equal(gotMAC, s.mac(body)) {
		return &Error{Code: CodeSignatureInvalid}
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return &Error{Code: CodeInvalid}
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return &Error{Code: CodeInvalid}
	}
	return nil
}

func (s *Service) mac(body string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(body))
	return h.Sum(nil)
}
