package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/store"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrStaffNotApproved = errors.New("no approved staff request")
	ErrInvalidToken     = errors.New("invalid token")
)

// Backend is the slice of the store the identity service needs.
type Backend interface {
	store.UserStore
	store.SessionStore
	FindApprovedStaffRequest(ctx context.Context, email string) (models.StaffRequest, bool, error)
}

type Options struct {
	Secret   string
	TTL      time.Duration
	LoginURL string
	Logger   *zap.Logger
	Now      func() time.Time
}

type Service struct {
	backend  Backend
	secret   []byte
	ttl      time.Duration
	loginURL string
	logger   *zap.Logger
	now      func() time.Time
}

type claims struct {
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

func NewService(backend Backend, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TTL <= 0 {
		opts.TTL = 8 * time.Hour
	}
	if opts.LoginURL == "" {
		opts.LoginURL = "/staff-login"
	}
	return &Service{
		backend:  backend,
		secret:   []byte(opts.Secret),
		ttl:      opts.TTL,
		loginURL: opts.LoginURL,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login checks credentials, makes sure a non-admin account is configured for
// a department and issues a signed session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, models.Session, error) {
	user, hash, err := s.backend.GetCredentials(ctx, strings.TrimSpace(email))
	if err != nil {
		return "", models.Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", models.Session{}, store.ErrInvalidCredentials
	}

	user, err = s.ensureStaffConfigured(ctx, user)
	if err != nil {
		return "", models.Session{}, err
	}

	session, err := s.backend.CreateSession(ctx, user.ID, s.now().UTC().Add(s.ttl))
	if err != nil {
		return "", models.Session{}, fmt.Errorf("create session: %w", err)
	}

	token, err := s.sign(session)
	if err != nil {
		return "", models.Session{}, err
	}
	s.logger.Info("login", zap.String("user_id", user.ID), zap.String("role", session.Role))
	return token, session, nil
}

func (s *Service) ensureStaffConfigured(ctx context.Context, user models.User) (models.User, error) {
	if user.Role == models.RoleAdmin {
		return user, nil
	}
	if user.Role == models.RoleStaff && user.Department != "" {
		return user, nil
	}

	request, found, err := s.backend.FindApprovedStaffRequest(ctx, user.Email)
	if err != nil {
		return models.User{}, fmt.Errorf("find staff request: %w", err)
	}
	if !found {
		s.logger.Info("login refused without approved request", zap.String("email", user.Email))
		return models.User{}, ErrStaffNotApproved
	}

	role := models.RoleStaff
	patch := store.UserPatch{Department: &request.Department, Role: &role}
	if request.Phone != "" {
		patch.Phone = &request.Phone
	}
	updated, err := s.backend.UpdateUser(ctx, user.ID, patch)
	if err != nil {
		return models.User{}, fmt.Errorf("configure staff account: %w", err)
	}
	s.logger.Info("staff account configured", zap.String("email", user.Email), zap.String("department", request.Department))
	return updated, nil
}

// Authenticate resolves a token to a live session. Revoked or expired
// sessions fail even while the token signature is still valid.
func (s *Service) Authenticate(ctx context.Context, token string) (models.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Session{}, ErrNotAuthenticated
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.SessionID == "" {
		return models.Session{}, ErrInvalidToken
	}

	session, err := s.backend.GetSession(ctx, c.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return models.Session{}, ErrNotAuthenticated
		}
		return models.Session{}, err
	}
	return session, nil
}

func (s *Service) IsAuthenticated(ctx context.Context, token string) bool {
	_, err := s.Authenticate(ctx, token)
	return err == nil
}

func (s *Service) Me(ctx context.Context, session models.Session) (models.User, error) {
	if session.UserID == "" {
		return models.User{}, ErrNotAuthenticated
	}
	return s.backend.GetUser(ctx, session.UserID)
}

func (s *Service) Logout(ctx context.Context, session models.Session) error {
	if session.ID == "" {
		return ErrNotAuthenticated
	}
	err := s.backend.DeleteSession(ctx, session.ID)
	if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return err
	}
	return nil
}

// RedirectToLogin returns the login location that sends the user back to
// returnURL once signed in.
func (s *Service) RedirectToLogin(returnURL string) string {
	returnURL = strings.TrimSpace(returnURL)
	if returnURL == "" {
		return s.loginURL
	}
	sep := "?"
	if strings.Contains(s.loginURL, "?") {
		sep = "&"
	}
	return s.loginURL + sep + "return_url=" + url.QueryEscape(returnURL)
}

// UpdateMe changes the caller's own profile. Role changes are ignored.
func (s *Service) UpdateMe(ctx context.Context, session models.Session, patch store.UserPatch) (models.User, error) {
	if session.UserID == "" {
		return models.User{}, ErrNotAuthenticated
	}
	patch.Role = nil
	// Department moves for staff go through an approved staff request.
	if !session.IsAdmin() {
		patch.Department = nil
	}
	if patch.FullName != nil {
		trimmed := strings.TrimSpace(*patch.FullName)
		patch.FullName = &trimmed
	}
	return s.backend.UpdateUser(ctx, session.UserID, patch)
}

func (s *Service) sign(session models.Session) (string, error) {
	issuedAt := s.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		SessionID: session.ID,
		Role:      session.Role,
		Email:     session.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
