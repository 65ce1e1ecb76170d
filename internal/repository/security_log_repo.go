package repository

import (
	"context"
	"time"

	"passvault/internal/docstore"
	"passvault/internal/entity"
)

type SecurityLogRepository interface {
	Log(ctx context.Context, log *entity.SecurityLog) error
}

type securityLogRepository struct {
	store docstore.Store
}

func NewSecurityLogRepository(store docstore.Store) SecurityLogRepository {
	return &securityLogRepository{store: store}
}

func (r *securityLogRepository) Log(ctx context.Context, log *entity.SecurityLog) error {
	if log.CreatedAt == 0 {
		log.CreatedAt = time.Now().Unix()
	}
	fields, err := docstore.Encode(log)
	if err != nil {
		return err
	}
	id, err := r.store.Add(ctx, entity.SecurityLogsCollection, fields)
	if err != nil {
		return err
	}
	log.ID = id
	return nil
}
