// Package gateway carries destination writes over MCP tool calls. The client
// side implements destination.Client; the server side exposes a Backend as
// the insert_one, insert_batch, query and health tools.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/intakecalc/platform/promotion-engine/internal/destination"
)

const (
	ToolInsertOne   = "insert_one"
	ToolInsertBatch = "insert_batch"
	ToolQuery       = "query"
	ToolHealth      = "health"

	tokenAudience = "destination-gateway"
)

// Envelope is the argument object of every tool call. UniqueID identifies
// the call and ProcessID the calling attempt; neither carries meaning beyond
// correlation and replay detection.
type Envelope struct {
	Tool      string          `json:"tool"`
	Data      json.RawMessage `json:"data"`
	UniqueID  string          `json:"unique_id"`
	ProcessID string          `json:"process_id"`
	Token     string          `json:"token,omitempty"`
}

type insertOneData struct {
	Table  string             `json:"table"`
	Record destination.Record `json:"record"`
}

type insertBatchData struct {
	Table   string               `json:"table"`
	Records []destination.Record `json:"records"`
}

type queryData struct {
	Query  string `json:"query"`
	Params []any  `json:"params"`
}

type insertOneReply struct {
	GeneratedID string `json:"generated_id,omitempty"`
}

type insertBatchReply struct {
	Count int `json:"count"`
}

type queryReply struct {
	Rows []destination.Record `json:"rows"`
}

type healthReply struct {
	Healthy bool `json:"healthy"`
}

var ErrUnauthorized = errors.New("unauthorized")

// signToken issues a short-lived HS256 service token.
func signToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func verifyToken(secret []byte, raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithAudience(tokenAudience), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}
