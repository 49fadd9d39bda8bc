// ABOUTME: Account registration and login issuing access tokens
// ABOUTME: Validates requests with struct tags, hashes passwords, and serves POST /auth/register and /auth/login

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mohammadhoseinmoradi/rtc-chat-server/internal/store"
)

// Account errors
var (
	ErrEmailTaken         = errors.New("user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var validate = validator.New()

// UserStore is the subset of store.Store the account service needs.
type UserStore interface {
	CreateUser(ctx context.Context, user *store.User) error
	FindUserByEmail(ctx context.Context, email string) (*store.User, error)
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Username string `json:"username" validate:"required,min=2,max=32"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UserView is the public projection of a user.
type UserView struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// AuthResult is returned on successful registration or login.
type AuthResult struct {
	AccessToken string   `json:"access_token"`
	User        UserView `json:"user"`
}

// AccountService registers users and issues tokens.
type AccountService struct {
	users      UserStore
	tokens     *JWTVerifier
	tokenTTL   time.Duration
	bcryptCost int
	logger     *slog.Logger
}

// NewAccountService creates an AccountService.
func NewAccountService(users UserStore, tokens *JWTVerifier, tokenTTL time.Duration, bcryptCost int, logger *slog.Logger) *AccountService {
	return &AccountService{
		users:      users,
		tokens:     tokens,
		tokenTTL:   tokenTTL,
		bcryptCost: bcryptCost,
		logger:     logger.With("component", "accounts"),
	}
}

// Register creates a new user and returns a token for it.
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return s.issue(user)
}

// Login checks the credentials and returns a token. Unknown email and wrong
// password both yield ErrInvalidCredentials.
func (s *AccountService) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	user, err := s.users.FindUserByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	hash := ""
	if user != nil {
		hash = user.PasswordHash
	}
	if !CheckPassword(hash, req.Password) {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

func (s *AccountService) issue(user *store.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID, user.Username, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}
	return &AuthResult{
		AccessToken: token,
		User:        UserView{ID: user.ID, Email: user.Email, Username: user.Username},
	}, nil
}

// RegisterRoutes mounts the account endpoints on mux.
func (s *AccountService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
}

func (s *AccountService) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.Register(r.Context(), req)
	if err != nil {
		s.writeAccountError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *AccountService) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.Login(r.Context(), req)
	if err != nil {
		s.writeAccountError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *AccountService) writeAccountError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, strings.ToLower(fe.Field()))
		}
		writeError(w, http.StatusBadRequest, "invalid fields: "+strings.Join(fields, ", "))
	case errors.Is(err, ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		s.logger.Error("account request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
