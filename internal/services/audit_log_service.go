package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/digital-play/api/internal/domain"
	"github.com/digital-play/api/internal/repositories"
)

// ErrAuditInvalidInput indicates a malformed audit record.
var ErrAuditInvalidInput = errors.New("audit log service: invalid input")

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("audit log service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &auditLogService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// Record persists an audit entry describing one administrative mutation.
func (s *auditLogService) Record(ctx context.Context, cmd AuditRecordCommand) error {
	actor := sanitizeAuditText(cmd.ActorID, 160)
	action := sanitizeAuditText(cmd.Action, 120)
	if actor == "" || action == "" {
		return fmt.Errorf("%w: actor and action are required", ErrAuditInvalidInput)
	}

	entry := domain.AuditLogEntry{
		ID:        "aud_" + s.newID(),
		ActorID:   actor,
		Action:    action,
		TargetRef: sanitizeAuditText(cmd.TargetRef, 200),
		Before:    cmd.Before,
		After:     cmd.After,
		CreatedAt: s.clock(),
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("audit log service: append: %w", err)
	}
	return nil
}

// List retrieves paginated audit entries for admin review.
func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	page, err := s.repo.List(ctx, repositories.AuditLogFilter{
		ActorID:    strings.TrimSpace(filter.ActorID),
		TargetRef:  strings.TrimSpace(filter.TargetRef),
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[AuditLogEntry]{}, err
	}
	return page, nil
}

// sanitizeAuditText trims control characters and bounds the length of
// free-form audit fields.
func sanitizeAuditText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
