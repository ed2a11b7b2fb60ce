// Package auth は会員向けベアラートークンの発行と検証を提供する。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/lockerclaim/internal/model"
)

// ErrInvalidToken はトークンが不正または期限切れであることを示す。
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims はトークンに埋め込む会員情報。
type Claims struct {
	MemberID string           `json:"member_id"`
	Name     string           `json:"name"`
	Role     model.MemberRole `json:"role"`
	jwt.RegisteredClaims
}

// Identity は検証済みトークンから得られた呼び出し元の情報。
type Identity struct {
	MemberID string
	Role     model.MemberRole
}

// IsAdmin は管理者権限を持つかどうかを返す。
func (i Identity) IsAdmin() bool {
	return i.Role == model.RoleAdmin
}

// TokenIssuer はHS256署名トークンを発行・検証する。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue は会員のトークンを発行する。
func (t *TokenIssuer) Issue(member *model.Member) (string, error) {
	jti, err := newTokenID()
	if err != nil {
		return "", err
	}

	now := t.now()
	claims := Claims{
		MemberID: member.ID,
		Name:     member.Name,
		Role:     member.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   member.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、呼び出し元の情報を返す。
// 署名方式がHMAC以外のトークンは拒否する。
func (t *TokenIssuer) Verify(tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.MemberID == "" || !claims.Role.Valid() {
		return Identity{}, ErrInvalidToken
	}
	return Identity{MemberID: claims.MemberID, Role: claims.Role}, nil
}

func newTokenID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
