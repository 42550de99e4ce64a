package devserver

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

const maxCodeAttempts = 5

type otpRequest struct {
	Email      string `json:"email"`
	CreateUser bool   `json:"create_user"`
}

type verifyRequest struct {
	Type  string `json:"type"`
	Email string `json:"email"`
	Token string `json:"token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenUser struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
	User         tokenUser `json:"user"`
}

func (s *Server) sendOTP(c echo.Context) error {
	var req otpRequest
	if err := c.Bind(&req); err != nil {
		return apiError(c, http.StatusBadRequest, "bad_json", "invalid body")
	}
	email := normalizeEmail(req.Email)
	if email == "" {
		return apiError(c, http.StatusBadRequest, "validation_failed", "email is required")
	}

	s.store.mu.Lock()
	_, known := s.store.users[email]
	s.store.mu.Unlock()
	if !known {
		return apiError(c, http.StatusUnprocessableEntity, "otp_disabled", "Signups not allowed for otp")
	}

	code, err := s.newCode()
	if err != nil {
		return apiError(c, http.StatusInternalServerError, "unexpected_failure", "generate code failed")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.opts.BcryptCost)
	if err != nil {
		return apiError(c, http.StatusInternalServerError, "unexpected_failure", "hash code failed")
	}
	s.store.mu.Lock()
	s.store.codes[email] = otp{Hash: hash, ExpiresAt: s.opts.Clock.Now().Add(s.opts.CodeTTL)}
	s.store.mu.Unlock()

	// The log line is how a developer receives the code.
	s.logger.Info("one-time code issued", "email", email, "code", code)
	return c.JSON(http.StatusOK, echo.Map{})
}

func (s *Server) verifyOTP(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return apiError(c, http.StatusBadRequest, "bad_json", "invalid body")
	}
	email := normalizeEmail(req.Email)
	code := strings.TrimSpace(req.Token)

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	pending, ok := s.store.codes[email]
	if !ok || s.opts.Clock.Now().After(pending.ExpiresAt) {
		delete(s.store.codes, email)
		return apiError(c, http.StatusForbidden, "otp_expired", "Token has expired or is invalid")
	}
	if err := bcrypt.CompareHashAndPassword(pending.Hash, []byte(code)); err != nil {
		pending.Attempts++
		if pending.Attempts >= maxCodeAttempts {
			delete(s.store.codes, email)
		} else {
			s.store.codes[email] = pending
		}
		return apiError(c, http.StatusForbidden, "invalid_otp", "Token is invalid")
	}
	delete(s.store.codes, email)

	u := s.store.users[email]
	resp, err := s.issueLocked(u, s.opts.IDs.New())
	if err != nil {
		return apiError(c, http.StatusInternalServerError, "unexpected_failure", "issue token failed")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) refreshToken(c echo.Context) error {
	if c.QueryParam("grant_type") != "refresh_token" {
		return apiError(c, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant_type")
	}
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return apiError(c, http.StatusBadRequest, "bad_json", "invalid body")
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	g, ok := s.store.refresh[req.RefreshToken]
	if !ok || s.store.revoked[g.SessionID] {
		return apiError(c, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
	}
	// Refresh tokens rotate: each one is good for a single exchange.
	delete(s.store.refresh, req.RefreshToken)
	u, ok := s.store.userByID(g.UserID)
	if !ok {
		return apiError(c, http.StatusBadRequest, "user_not_found", "user not found")
	}
	resp, err := s.issueLocked(u, g.SessionID)
	if err != nil {
		return apiError(c, http.StatusInternalServerError, "unexpected_failure", "issue token failed")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) logout(c echo.Context) error {
	header := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
	_, sessionID, err := s.parseAccessToken(header)
	if err != nil {
		return apiError(c, http.StatusUnauthorized, "bad_jwt", err.Error())
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.revoked[sessionID] = true
	for token, g := range s.store.refresh {
		if g.SessionID == sessionID {
			delete(s.store.refresh, token)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// issueLocked signs an access token and mints a refresh token. Callers hold the store lock.
func (s *Server) issueLocked(u user, sessionID uuid.UUID) (tokenResponse, error) {
	now := s.opts.Clock.Now()
	exp := now.Add(s.opts.TokenTTL)
	claims := jwt.MapClaims{
		"sub":        u.ID.String(),
		"email":      u.Email,
		"role":       "authenticated",
		"aud":        "authenticated",
		"session_id": sessionID.String(),
		"iat":        now.Unix(),
		"exp":        exp.Unix(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.opts.Secret))
	if err != nil {
		return tokenResponse{}, err
	}
	refresh, err := randomHex(24)
	if err != nil {
		return tokenResponse{}, err
	}
	s.store.refresh[refresh] = grant{UserID: u.ID, SessionID: sessionID}
	return tokenResponse{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.opts.TokenTTL.Seconds()),
		ExpiresAt:    exp.Unix(),
		RefreshToken: refresh,
		User:         tokenUser{ID: u.ID, Email: u.Email},
	}, nil
}

func (s *Server) newCode() (string, error) {
	if s.opts.Code != "" {
		return s.opts.Code, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
