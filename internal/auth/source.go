// Package auth supplies the bearer token of the signed-in agent and reads
// the identity claims it carries.
package auth

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"chatdesk/pkg/types"
)

// Roles a token can be held under.
const (
	RoleCustomerCare = "CUSTOMER_CARE_REPRESENTATIVE"
	RoleAdmin        = "ADMIN"
)

// Source holds the two mutually exclusive identities of the console
// FUNCTIONAL DISCOVERY: A signed-in customer-care representative always wins
// over an admin session; the admin token is only a fallback
type Source struct {
	mu           sync.RWMutex
	customerCare string
	admin        string
	logger       *zap.Logger
}

// NewSource creates a token source seeded with the configured tokens.
func NewSource(customerCareToken, adminToken string, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		customerCare: strings.TrimSpace(customerCareToken),
		admin:        strings.TrimSpace(adminToken),
		logger:       logger,
	}
}

// SetCustomerCareToken replaces the customer-care identity; "" signs it out.
func (s *Source) SetCustomerCareToken(token string) {
	s.mu.Lock()
	s.customerCare = strings.TrimSpace(token)
	s.mu.Unlock()
}

// SetAdminToken replaces the admin identity; "" signs it out.
func (s *Source) SetAdminToken(token string) {
	s.mu.Lock()
	s.admin = strings.TrimSpace(token)
	s.mu.Unlock()
}

// AccessToken returns the token of the active identity.
func (s *Source) AccessToken() (string, error) {
	token, role := s.active()
	if token == "" {
		return "", &types.AuthenticationError{Reason: "no signed-in customer-care or admin identity"}
	}
	s.logger.Debug("access token resolved", zap.String("role", role))
	return token, nil
}

// Role returns which identity AccessToken would use, or "".
func (s *Source) Role() string {
	_, role := s.active()
	return role
}

func (s *Source) active() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.customerCare != "":
		return s.customerCare, RoleCustomerCare
	case s.admin != "":
		return s.admin, RoleAdmin
	default:
		return "", ""
	}
}

// Identity returns the claims of the active token. Opaque tokens yield ErrNotJWT.
func (s *Source) Identity() (*Claims, error) {
	token, err := s.AccessToken()
	if err != nil {
		return nil, err
	}
	return Inspect(token)
}

// UserID returns the user id of the active identity, or "" when it cannot be read.
func (s *Source) UserID() string {
	claims, err := s.Identity()
	if err != nil {
		return ""
	}
	return claims.UserID
}
