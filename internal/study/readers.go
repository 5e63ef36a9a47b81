package study

import (
	"context"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/tphakala/readerstudy/internal/audit"
	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/datastore/repository"
	"github.com/tphakala/readerstudy/internal/errors"
)

// CreateReaderRequest describes a new reader account.
type CreateReaderRequest struct {
	ReaderCode string              `json:"reader_code" validate:"required,min=2,max=50,alphanum"`
	Name       string              `json:"name" validate:"required,max=100"`
	Email      string              `json:"email" validate:"omitempty,email,max=200"`
	Password   string              `json:"password" validate:"required,min=8,max=72"`
	Role       entities.ReaderRole `json:"role" validate:"omitempty,oneof=reader admin"`
	Group      *int                `json:"group" validate:"omitempty,gte=1"`
}

// UpdateReaderRequest changes an existing reader. Nil fields are kept.
type UpdateReaderRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=100"`
	Email    *string `json:"email" validate:"omitempty,email,max=200"`
	Password *string `json:"password" validate:"omitempty,min=8,max=72"`
	IsActive *bool   `json:"is_active"`
	Group    *int    `json:"group" validate:"omitempty,gte=1"`
}

// ReaderService manages reader accounts on behalf of admins.
type ReaderService struct {
	readers  repository.ReaderRepository
	sessions repository.SessionRepository
	config   *ConfigService
	audit    audit.Sink
	validate *validator.Validate
}

// NewReaderService creates a ReaderService.
func NewReaderService(readers repository.ReaderRepository, sessions repository.SessionRepository, config *ConfigService, sink audit.Sink) *ReaderService {
	return &ReaderService{
		readers:  readers,
		sessions: sessions,
		config:   config,
		audit:    sink,
		validate: newValidator(),
	}
}

// Create adds a reader. Readers need a group within the study design;
// admins must not have one.
func (s *ReaderService) Create(ctx context.Context, actor auth.Identity, req *CreateReaderRequest) (*entities.Reader, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(describeValidation(err), err)
	}

	role := req.Role
	if role == "" {
		role = entities.RoleReader
	}
	if err := s.checkGroup(ctx, role, req.Group); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	reader := &entities.Reader{
		ReaderCode:   req.ReaderCode,
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         role,
		GroupNumber:  req.Group,
		IsActive:     true,
	}
	if err := s.readers.Create(ctx, reader); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, conflictError("reader code already exists", map[string]any{"reader_code": req.ReaderCode})
		}
		return nil, storageError("create reader", err)
	}

	s.audit.Record(ctx, audit.Event{
		ReaderID:     actorID(actor),
		Action:       audit.ActionAdminReaderCreate,
		ResourceType: audit.ResourceReader,
		ResourceID:   uintString(reader.ID),
		Details: map[string]any{
			"reader_code": reader.ReaderCode,
			"role":        reader.Role,
			"group":       reader.GroupNumber,
		},
	})
	return reader, nil
}

// List returns readers ordered by reader code.
func (s *ReaderService) List(ctx context.Context, actor auth.Identity, filter repository.ReaderFilter) ([]entities.Reader, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	readers, err := s.readers.List(ctx, filter)
	if err != nil {
		return nil, storageError("list readers", err)
	}
	return readers, nil
}

// Get returns one reader.
func (s *ReaderService) Get(ctx context.Context, actor auth.Identity, id uint) (*entities.Reader, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// GetByCode returns the reader with the given code.
func (s *ReaderService) GetByCode(ctx context.Context, actor auth.Identity, code string) (*entities.Reader, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	reader, err := s.readers.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrReaderNotFound) {
			return nil, notFoundError("reader not found")
		}
		return nil, storageError("load reader", err)
	}
	return reader, nil
}

// Update applies an admin edit. The group of a reader is frozen once any
// session exists for them, since their crossover depends on it.
func (s *ReaderService) Update(ctx context.Context, actor auth.Identity, id uint, req *UpdateReaderRequest) (*entities.Reader, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(describeValidation(err), err)
	}
	reader, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		updates["password_hash"] = hash
	}
	if req.Group != nil && (reader.GroupNumber == nil || *reader.GroupNumber != *req.Group) {
		if err := s.checkGroup(ctx, reader.Role, req.Group); err != nil {
			return nil, err
		}
		n, err := s.sessions.CountByReader(ctx, reader.ID)
		if err != nil {
			return nil, storageError("count sessions", err)
		}
		if n > 0 {
			return nil, conflictError("group cannot change once the reader has sessions", map[string]any{
				"reader_id": reader.ID,
				"sessions":  n,
			})
		}
		updates["group_number"] = *req.Group
	}
	if len(updates) == 0 {
		return reader, nil
	}

	if err := s.readers.Update(ctx, reader.ID, updates); err != nil {
		if errors.Is(err, repository.ErrReaderNotFound) {
			return nil, notFoundError("reader not found")
		}
		return nil, storageError("update reader", err)
	}

	fields := make([]string, 0, len(updates))
	for k := range updates {
		fields = append(fields, k)
	}
	slices.Sort(fields)
	s.audit.Record(ctx, audit.Event{
		ReaderID:     actorID(actor),
		Action:       audit.ActionAdminReaderUpdate,
		ResourceType: audit.ResourceReader,
		ResourceID:   uintString(reader.ID),
		Details:      map[string]any{"reader_code": reader.ReaderCode, "fields": fields},
	})

	return s.load(ctx, reader.ID)
}

// SetGroup changes the group of a reader without sessions.
func (s *ReaderService) SetGroup(ctx context.Context, actor auth.Identity, id uint, group int) (*entities.Reader, error) {
	return s.Update(ctx, actor, id, &UpdateReaderRequest{Group: &group})
}

// Deactivate blocks a reader from logging in and entering sessions.
func (s *ReaderService) Deactivate(ctx context.Context, actor auth.Identity, id uint) (*entities.Reader, error) {
	inactive := false
	return s.Update(ctx, actor, id, &UpdateReaderRequest{IsActive: &inactive})
}

func (s *ReaderService) load(ctx context.Context, id uint) (*entities.Reader, error) {
	reader, err := s.readers.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrReaderNotFound) {
			return nil, notFoundError("reader not found")
		}
		return nil, storageError("load reader", err)
	}
	return reader, nil
}

// checkGroup validates a group against the role and the configured design.
func (s *ReaderService) checkGroup(ctx context.Context, role entities.ReaderRole, group *int) error {
	if role == entities.RoleAdmin {
		if group != nil {
			return validationError("admins cannot belong to a group", nil)
		}
		return nil
	}
	if group == nil {
		return validationError("group is required for readers", nil)
	}
	cfg, err := s.config.Current(ctx)
	if err != nil {
		return err
	}
	if *group > cfg.TotalGroups {
		return validationError("group is outside the study design", nil)
	}
	return nil
}
