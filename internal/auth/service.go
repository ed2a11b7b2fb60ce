package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/lockerclaim/internal/model"
	"github.com/hitoshi/lockerclaim/internal/repository"
)

// Service は会員の作成とトークン発行を提供する。
type Service struct {
	members repository.MemberRepository
	issuer  *TokenIssuer
}

// NewService はServiceを生成する。
func NewService(members repository.MemberRepository, issuer *TokenIssuer) *Service {
	return &Service{members: members, issuer: issuer}
}

// CreateMember は会員を作成する。roleが空の場合はUSERとする。
func (s *Service) CreateMember(ctx context.Context, name string, role model.MemberRole) (*model.Member, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewMissingFieldError("name")
	}
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return nil, model.NewInvalidReferenceError("role")
	}

	member := &model.Member{
		ID:        uuid.New().String(),
		Name:      name,
		Role:      role,
		CreatedAt: time.Now(),
	}
	if err := s.members.Create(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to create member: %w", err)
	}

	slog.Info("member created",
		slog.String("member_id", member.ID),
		slog.String("role", string(member.Role)),
	)
	return member, nil
}

// IssueToken は既存会員のトークンを発行する。
func (s *Service) IssueToken(ctx context.Context, memberID string) (string, error) {
	if _, err := uuid.Parse(memberID); err != nil {
		return "", model.NewMemberNotFoundError(memberID)
	}
	member, err := s.members.FindByID(ctx, memberID)
	if err != nil {
		return "", fmt.Errorf("failed to find member: %w", err)
	}
	if member == nil {
		return "", model.NewMemberNotFoundError(memberID)
	}
	return s.issuer.Issue(member)
}

// Verify はトークンを検証する。
func (s *Service) Verify(token string) (Identity, error) {
	return s.issuer.Verify(token)
}
