// Package auth mints and verifies the bearer tokens carried by back-office
// staff.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

const (
	audience  = "gridpay-backoffice"
	clockSkew = 30 * time.Second
)

var signingMethod = jwt.SigningMethodHS256

// Session is the identity a token carries.
type Session struct {
	EmployeeID uint64
	Role       enums.EmployeeRole
	ID         string
}

type claims struct {
	Role enums.EmployeeRole `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 tokens for one issuer.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

// NewTokens validates cfg. Every problem is reported, not just the first.
func NewTokens(cfg config.JWTConfig) (*Tokens, error) {
	var errs []error
	if cfg.Secret == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		errs = append(errs, errors.New("jwt issuer is required"))
	}
	if cfg.ExpirationMinutes <= 0 {
		errs = append(errs, errors.New("jwt expiration minutes must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Tokens{
		secret: []byte(cfg.Secret),
		issuer: issuer,
		ttl:    time.Duration(cfg.ExpirationMinutes) * time.Minute,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockSkew),
		),
	}, nil
}

// Mint issues a token for s valid from now. A blank session id is generated.
func (t *Tokens) Mint(now time.Time, s Session) (string, error) {
	if s.EmployeeID == 0 {
		return "", errors.New("employee id is required")
	}
	if !s.Role.IsValid() {
		return "", fmt.Errorf("invalid employee role %q", s.Role)
	}
	id := strings.TrimSpace(s.ID)
	if id == "" {
		id = uuid.NewString()
	}

	token := jwt.NewWithClaims(signingMethod, claims{
		Role: s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.FormatUint(s.EmployeeID, 10),
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        id,
		},
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and registered claims and returns the session.
func (t *Tokens) Verify(raw string) (Session, error) {
	var c claims
	if _, err := t.parser.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}); err != nil {
		return Session{}, err
	}

	employeeID, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || employeeID == 0 {
		return Session{}, fmt.Errorf("token subject %q is not an employee id", c.Subject)
	}
	if !c.Role.IsValid() {
		return Session{}, fmt.Errorf("token carries invalid role %q", c.Role)
	}
	return Session{EmployeeID: employeeID, Role: c.Role, ID: c.ID}, nil
}
