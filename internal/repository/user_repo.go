package repository

import (
	"context"
	"errors"
	"time"

	"passvault/internal/docstore"
	"passvault/internal/entity"
)

type UserRepository interface {
	EnsureIndexes(ctx context.Context) error
	Create(ctx context.Context, user *entity.User) error
	FindByID(ctx context.Context, id string) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByUsername(ctx context.Context, username string) (*entity.User, error)
	FindByToken(ctx context.Context, tokenType entity.VerificationType, tokenHash string) (*entity.User, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	CompareAndUpdate(ctx context.Context, id string, expect map[string]any, fields map[string]any) (bool, error)
	Delete(ctx context.Context, id string) error
}

type userRepository struct {
	store docstore.Store
	now   func() time.Time
}

func NewUserRepository(store docstore.Store) UserRepository {
	return &userRepository{store: store, now: time.Now}
}

func (r *userRepository) EnsureIndexes(ctx context.Context) error {
	if err := r.store.EnsureUnique(ctx, entity.UsersCollection, entity.FieldEmail); err != nil {
		return err
	}
	return r.store.EnsureUnique(ctx, entity.UsersCollection, entity.FieldUsername)
}

func (r *userRepository) Create(ctx context.Context, user *entity.User) error {
	now := r.now().Unix()
	user.CreatedAt = now
	user.UpdatedAt = now
	fields, err := docstore.Encode(user)
	if err != nil {
		return err
	}
	id, err := r.store.Add(ctx, entity.UsersCollection, fields)
	if err != nil {
		return err
	}
	user.ID = id
	return nil
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	doc, err := r.store.Get(ctx, entity.UsersCollection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeUser(doc)
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.findOne(ctx, entity.FieldEmail, email)
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.findOne(ctx, entity.FieldUsername, username)
}

func (r *userRepository) FindByToken(ctx context.Context, tokenType entity.VerificationType, tokenHash string) (*entity.User, error) {
	if tokenHash == "" {
		return nil, nil
	}
	return r.findOne(ctx, tokenType.TokenField(), tokenHash)
}

func (r *userRepository) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	return r.store.Update(ctx, entity.UsersCollection, id, r.stamp(fields))
}

func (r *userRepository) CompareAndUpdate(ctx context.Context, id string, expect map[string]any, fields map[string]any) (bool, error) {
	return r.store.CompareAndUpdate(ctx, entity.UsersCollection, id, expect, r.stamp(fields))
}

func (r *userRepository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, entity.UsersCollection, id)
}

func (r *userRepository) findOne(ctx context.Context, field string, value string) (*entity.User, error) {
	docs, err := r.store.QueryByField(ctx, entity.UsersCollection, field, value)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return decodeUser(&docs[0])
}

func (r *userRepository) stamp(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		out[key] = value
	}
	out[entity.FieldUpdatedAt] = r.now().Unix()
	return out
}

func decodeUser(doc *docstore.Document) (*entity.User, error) {
	var user entity.User
	if err := docstore.Decode(doc, &user); err != nil {
		return nil, err
	}
	user.ID = doc.ID
	return &user, nil
}
