package repository

import (
	"context"
	"errors"

	"github.com/oauthkit/spa-auth-service/internal/domain"
	"github.com/oauthkit/spa-auth-service/internal/observability"

	"gorm.io/gorm"
)

var ErrApplicationNotFound = errors.New("application not found")

type ApplicationRepository interface {
	Create(ctx context.Context, app *domain.Application) error
	FindByClientID(ctx context.Context, clientID string) (*domain.Application, error)
	FindByID(ctx context.Context, id string) (*domain.Application, error)
}

type GormApplicationRepository struct{ db *gorm.DB }

func NewApplicationRepository(db *gorm.DB) ApplicationRepository {
	return &GormApplicationRepository{db: db}
}

func (r *GormApplicationRepository) Create(ctx context.Context, app *domain.Application) error {
	if err := r.db.WithContext(ctx).Create(app).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "application", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "application", "create", "success")
	return nil
}

func (r *GormApplicationRepository) FindByClientID(ctx context.Context, clientID string) (*domain.Application, error) {
	var app domain.Application
	err := r.db.WithContext(ctx).Where("client_id = ?", clientID).First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "application", "find_by_client_id", "not_found")
			return nil, ErrApplicationNotFound
		}
		observability.RecordRepositoryOperation(ctx, "application", "find_by_client_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "application", "find_by_client_id", "success")
	return &app, nil
}

func (r *GormApplicationRepository) FindByID(ctx context.Context, id string) (*domain.Application, error) {
	var app domain.Application
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "application", "find_by_id", "not_found")
			return nil, ErrApplicationNotFound
		}
		observability.RecordRepositoryOperation(ctx, "application", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "application", "find_by_id", "success")
	return &app, nil
}
