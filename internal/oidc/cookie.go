package oidc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrInvalidFlowCookie covers every way a flow cookie can fail to decode.
// Callers get no more detail than that, the specifics only matter in logs.
var ErrInvalidFlowCookie = errors.New("invalid or expired flow cookie")

// FlowCookieCodec seals FlowState into an opaque, tamper-evident cookie
// value. AES-GCM gives integrity as well as confidentiality, so a forged or
// replayed-after-expiry cookie never yields a usable FlowState.
type FlowCookieCodec struct {
	aead cipher.AEAD
	ttl  time.Duration
}

// NewFlowCookieCodec builds a codec from a 32-byte key.
func NewFlowCookieCodec(key []byte, ttl time.Duration) (*FlowCookieCodec, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("flow cookie key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &FlowCookieCodec{aead: aead, ttl: ttl}, nil
}

type sealedFlow struct {
	FlowState
	ExpiresAt int64 `json:"exp"`
}

// Encode seals the flow state with an embedded expiry.
func (c *FlowCookieCodec) Encode(flow FlowState) (string, error) {
	payload, err := json.Marshal(sealedFlow{
		FlowState: flow,
		ExpiresAt: time.Now().Add(c.ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal flow state: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, payload, nil)

	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a sealed cookie value. Any failure, including expiry, returns
// ErrInvalidFlowCookie.
func (c *FlowCookieCodec) Decode(value string) (FlowState, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return FlowState{}, ErrInvalidFlowCookie
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) <= nonceSize {
		return FlowState{}, ErrInvalidFlowCookie
	}

	payload, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return FlowState{}, ErrInvalidFlowCookie
	}

	var sealed sealedFlow
	if err := json.Unmarshal(payload, &sealed); err != nil {
		return FlowState{}, ErrInvalidFlowCookie
	}

	if time.Now().Unix() > sealed.ExpiresAt {
		return FlowState{}, ErrInvalidFlowCookie
	}

	return sealed.FlowState, nil
}
