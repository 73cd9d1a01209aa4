package authz

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/untibullet/teamhub/internal/models"
)

// ErrUnauthorized токен отсутствует, просрочен или подписан чужим ключом
var ErrUnauthorized = errors.New("unauthorized")

// Claims полезная нагрузка токена
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwtlib.RegisteredClaims
}

// Tokens выпускает и проверяет HS256 токены
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	return &Tokens{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue подписывает токен для пользователя с указанной ролью
func (t *Tokens) Issue(actor models.Actor) (string, error) {
	now := t.now()
	claims := Claims{
		UserID: actor.UserID.String(),
		Role:   string(actor.Role),
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   actor.UserID.String(),
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse проверяет подпись и срок действия и возвращает пользователя из токена
func (t *Tokens) Parse(token string) (models.Actor, error) {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(t.issuer))
	}

	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(*jwtlib.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return models.Actor{}, fmt.Errorf("%w: invalid claims", ErrUnauthorized)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: malformed user_id claim", ErrUnauthorized)
	}
	role := models.Role(claims.Role)
	if !role.Valid() {
		return models.Actor{}, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, claims.Role)
	}
	return models.Actor{UserID: userID, Role: role}, nil
}
