package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"symptomcheck/internal/auth"
	"symptomcheck/internal/config"
	"symptomcheck/internal/crypto"
	"symptomcheck/internal/geo"
	"symptomcheck/internal/mail"
	"symptomcheck/internal/model"
	"symptomcheck/internal/repository"
)

type Server struct {
	cfg       config.Config
	store     repository.Store
	registry  auth.RevocationRegistry
	mailer    mail.Mailer
	geocoder  *geo.Geocoder
	hospitals *geo.HospitalIndex
}

func NewServer(cfg config.Config, store repository.Store, registry auth.RevocationRegistry, mailer mail.Mailer, geocoder *geo.Geocoder, hospitals *geo.HospitalIndex) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		registry:  registry,
		mailer:    mailer,
		geocoder:  geocoder,
		hospitals: hospitals,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/signup", s.handleSignup)
	r.Post("/verify-otp", s.handleVerifyOTP)
	r.Post("/login", s.handleLogin)
	r.Post("/send-otp", s.handleSendOTP)
	r.Post("/login-with-otp", s.handleLoginWithOTP)
	r.Post("/forgot-password", s.handleForgotPassword)
	r.Post("/reset-password/{token}", s.handleResetPassword)
	r.Post("/userinfo", s.handleUserInfo)

	r.With(s.authMiddleware).Post("/signout", s.handleSignout)

	r.Get("/hospitals/nearby", s.handleNearbyHospitals)

	return r
}

type signupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.TrimSpace(req.Email)
	if req.FullName == "" || req.Email == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "Full name, email and password are required.")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}

	now := time.Now().UTC()
	account := model.Account{
		ID:           uuid.NewString(),
		FullName:     req.FullName,
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			writeMessage(w, http.StatusBadRequest, "User already exists.")
			return
		}
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}

	if err := s.issueChallenge(r.Context(), account, model.PurposeSignup); err != nil {
		// The account stays pending; the cleanup sweep removes it once the
		// (absent or expired) challenge window has passed.
		writeMessage(w, http.StatusInternalServerError, "Failed to send verification email.")
		return
	}

	writeMessage(w, http.StatusOK, "Signup successful. Please verify your email with the OTP sent.")
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.OTP = strings.TrimSpace(req.OTP)
	if req.Email == "" || req.OTP == "" {
		writeMessage(w, http.StatusBadRequest, "Email and OTP are required.")
		return
	}

	account, err := s.store.GetAccountByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "User not found.")
			return
		}
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}

	challenge, err := s.store.GetChallenge(r.Context(), account.ID, model.PurposeSignup)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "No active verification code found.")
			return
		}
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}
	if time.Now().UTC().After(challenge.ExpiresAt) {
		writeMessage(w, http.StatusBadRequest, "OTP has expired.")
		return
	}
	if !codeMatches(challenge.Code, req.OTP) {
		writeMessage(w, http.StatusBadRequest, "Invalid OTP.")
		return
	}

	consumed, err := s.store.ConsumeChallenge(r.Context(), account.ID, model.PurposeSignup, req.OTP)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}
	if !consumed {
		// Raced with another verify or a resend.
		writeMessage(w, http.StatusBadRequest, "Invalid OTP.")
		return
	}

	if err := s.store.MarkVerified(r.Context(), account.ID, time.Now().UTC()); err != nil {
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}

	writeMessage(w, http.StatusOK, "Email verified successfully.")
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  userSummary `json:"user"`
}

type userSummary struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "Email and password are required.")
		return
	}

	account, err := s.store.GetAccountByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "User not found.")
			return
		}
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}
	if !account.Verified {
		writeMessage(w, http.StatusForbidden, "Please verify your email before logging in.")
		return
	}
	if err := crypto.CheckPassword(account.PasswordHash, req.Password); err != nil {
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials.")
		return
	}

	s.respondWithSession(w, account)
}

type sendOTPRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeMessage(w, http.StatusBadRequest, "Email is required.")
		return
	}

	account, err := s.store.GetAccountByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "User not found.")
			return
		}
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}

	// For a pending account this is a verification resend and resets the
	// cleanup clock; for a verified one it backs the OTP login flow.
	purpose := model.PurposeLogin
	if !account.Verified {
		purpose = model.PurposeSignup
	}
	if err := s.issueChallenge(r.Context(), account, purpose); err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to send OTP.")
		return
	}

	writeMessage(w, http.StatusOK, "OTP sent to your email.")
}

type loginWithOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (s *Server) handleLoginWithOTP(w http.ResponseWriter, r *http.Request) {
	var req loginWithOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.OTP = strings.TrimSpace(req.OTP)
	if req.Email == "" || req.OTP == "" {
		writeMessage(w, http.StatusBadRequest, "Email and OTP are required.")
		return
	}

	account, err := s.store.GetAccountByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "User not found.")
			return
		}
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}
	if !account.Verified {
		writeMessage(w, http.StatusForbidden, "Please verify your email before logging in.")
		return
	}

	challenge, err := s.store.GetChallenge(r.Context(), account.ID, model.PurposeLogin)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeMessage(w, http.StatusBadRequest, "Invalid OTP.")
			return
		}
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}
	if time.Now().UTC().After(challenge.ExpiresAt) {
		writeMessage(w, http.StatusBadRequest, "OTP has expired.")
		return
	}
	if !codeMatches(challenge.Code, req.OTP) {
		writeMessage(w, http.StatusBadRequest, "Invalid OTP.")
		return
	}

	consumed, err := s.store.ConsumeChallenge(r.Context(), account.ID, model.PurposeLogin, req.OTP)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}
	if !consumed {
		writeMessage(w, http.StatusBadRequest, "Invalid OTP.")
		return
	}

	s.respondWithSession(w, account)
}

func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())
	if session == nil {
		writeMessage(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}

	// Retain the entry until the token would have expired on its own;
	// revoking twice is a no-op. A token without an expiry claim gets the
	// full session TTL.
	ttl := s.cfg.SessionTokenTTL
	if session.Claims.ExpiresAt != nil {
		ttl = time.Until(session.Claims.ExpiresAt.Time)
	}
	if err := s.registry.Revoke(r.Context(), session.Token, ttl); err != nil {
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}

	writeMessage(w, http.StatusOK, "Signed out successfully.")
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeMessage(w, http.StatusBadRequest, "Email is required.")
		return
	}

	account, err := s.store.GetAccountByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "User not found.")
			return
		}
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}

	rawToken, err := crypto.NewResetToken()
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}

	now := time.Now().UTC()
	token := model.ResetToken{
		AccountID: account.ID,
		TokenHash: crypto.HashToken(rawToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.ResetTokenTTL),
	}
	if err := s.store.ReplaceResetToken(r.Context(), token); err != nil {
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}

	resetLink := s.cfg.ResetBaseURL + "/" + rawToken
	body := fmt.Sprintf("<p>Hello %s,</p><p>Click <a href=%q>here</a> to reset your password. The link expires in %d minutes.</p>",
		account.FullName, resetLink, int(s.cfg.ResetTokenTTL.Minutes()))
	if err := s.sendMail(r.Context(), account.Email, "Reset your password", body); err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to send reset email.")
		return
	}

	writeMessage(w, http.StatusOK, "Password reset link sent to your email.")
}

type resetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	rawToken := chi.URLParam(r, "token")
	if rawToken == "" {
		writeMessage(w, http.StatusBadRequest, "Invalid or expired reset token.")
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.NewPassword == "" {
		writeMessage(w, http.StatusBadRequest, "New password is required.")
		return
	}

	token, err := s.store.ConsumeResetToken(r.Context(), crypto.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeMessage(w, http.StatusBadRequest, "Invalid or expired reset token.")
			return
		}
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}
	if time.Now().UTC().After(token.ExpiresAt) {
		// Consumed above regardless; an expired token fails closed.
		writeMessage(w, http.StatusBadRequest, "Invalid or expired reset token.")
		return
	}

	hash, err := crypto.HashPassword(req.NewPassword)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}
	if err := s.store.UpdatePassword(r.Context(), token.AccountID, hash, time.Now().UTC()); err != nil {
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}

	writeMessage(w, http.StatusOK, "Password reset successful.")
}

type userInfoRequest struct {
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	var req userInfoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.Age <= 0 || strings.TrimSpace(req.Gender) == "" {
		writeMessage(w, http.StatusBadRequest, "Age and gender are required.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "User info received successfully",
		"data":    map[string]interface{}{"age": req.Age, "gender": req.Gender},
	})
}

type hospitalsResponse struct {
	Hospitals []geo.Hospital `json:"hospitals"`
}

func (s *Server) handleNearbyHospitals(w http.ResponseWriter, r *http.Request) {
	center, ok := s.resolveCenter(w, r)
	if !ok {
		return
	}

	hospitals, err := s.hospitals.SearchNearby(r.Context(), center, s.cfg.SearchRadiusM)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch nearby hospitals.")
		return
	}

	writeJSON(w, http.StatusOK, hospitalsResponse{Hospitals: hospitals})
}

// resolveCenter acquires the query point: explicit coordinates pass through
// after numeric validation, otherwise a free-text location goes through one
// geocoder lookup. Writes the error response itself when it returns false.
func (s *Server) resolveCenter(w http.ResponseWriter, r *http.Request) (geo.Coordinates, bool) {
	rawLat := r.URL.Query().Get("latitude")
	rawLon := r.URL.Query().Get("longitude")
	location := strings.TrimSpace(r.URL.Query().Get("location"))

	if rawLat != "" || rawLon != "" {
		lat, latErr := strconv.ParseFloat(rawLat, 64)
		lon, lonErr := strconv.ParseFloat(rawLon, 64)
		if latErr != nil || lonErr != nil {
			writeError(w, http.StatusBadRequest, "Invalid coordinates.")
			return geo.Coordinates{}, false
		}
		return geo.Coordinates{Lat: lat, Lon: lon}, true
	}

	if location == "" {
		writeError(w, http.StatusBadRequest, "Location not provided.")
		return geo.Coordinates{}, false
	}

	center, err := s.geocoder.Resolve(r.Context(), location)
	if err != nil {
		if errors.Is(err, geo.ErrLocationNotFound) {
			writeError(w, http.StatusNotFound, "Location not found.")
			return geo.Coordinates{}, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to resolve location.")
		return geo.Coordinates{}, false
	}
	return center, true
}

// issueChallenge generates a fresh OTP, installs it as the account's only
// active challenge for the purpose and mails it out.
func (s *Server) issueChallenge(ctx context.Context, account model.Account, purpose model.ChallengePurpose) error {
	code, err := crypto.NewOTP()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	challenge := model.Challenge{
		AccountID: account.ID,
		Purpose:   purpose,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.OTPTTL),
	}
	if err := s.store.ReplaceChallenge(ctx, challenge); err != nil {
		return err
	}

	subject := "Your verification code"
	if purpose == model.PurposeLogin {
		subject = "Your login code"
	}
	body := fmt.Sprintf("<p>Hello %s,</p><p>Your one-time code is <b>%s</b>. It expires in %d minutes.</p>",
		account.FullName, code, int(s.cfg.OTPTTL.Minutes()))
	return s.sendMail(ctx, account.Email, subject, body)
}

func (s *Server) sendMail(ctx context.Context, to, subject, body string) error {
	mailCtx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	defer cancel()
	return s.mailer.Send(mailCtx, to, subject, body)
}

func (s *Server) respondWithSession(w http.ResponseWriter, account model.Account) {
	token, err := auth.NewSessionToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.SessionTokenTTL, auth.Claims{
		UserID:   account.ID,
		Email:    account.Email,
		FullName: account.FullName,
	})
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Server error.")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: token,
		User: userSummary{
			ID:       account.ID,
			FullName: account.FullName,
			Email:    account.Email,
		},
	})
}

// session carries the validated claims plus the raw token so signout can
// revoke exactly what was presented.
type session struct {
	Token  string
	Claims *auth.Claims
}

type sessionKey struct{}

// authMiddleware is the single gate every protected route passes through:
// bearer extraction, signature and expiry validation, then the revocation
// check. Handlers read the result from the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeMessage(w, http.StatusUnauthorized, "Access denied. No token provided.")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				writeMessage(w, http.StatusForbidden, "Token expired.")
				return
			}
			writeMessage(w, http.StatusForbidden, "Invalid token.")
			return
		}

		revoked, err := s.registry.IsRevoked(r.Context(), token)
		if err != nil || revoked {
			// Fail closed when the registry is unreachable.
			writeMessage(w, http.StatusForbidden, "Invalid token.")
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, &session{Token: token, Claims: claims})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) *session {
	value := ctx.Value(sessionKey{})
	current, _ := value.(*session)
	return current
}

// codeMatches compares one-time codes in constant time.
func codeMatches(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
