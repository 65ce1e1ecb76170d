package docstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

var identifierPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

type documentRow struct {
	Collection string         `gorm:"primaryKey;type:text"`
	ID         string         `gorm:"primaryKey;type:uuid"`
	Data       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (documentRow) TableName() string {
	return "documents"
}

// PostgresStore keeps every collection in a single jsonb table. Unique
// indexes are partial expression indexes scoped to one collection.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (s *PostgresStore) Get(ctx context.Context, collection string, id string) (*Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	var row documentRow
	err := s.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToDocument(row)
}

func (s *PostgresStore) QueryByField(ctx context.Context, collection string, field string, value any) ([]Document, error) {
	filter, err := json.Marshal(map[string]any{field: value})
	if err != nil {
		return nil, err
	}
	var rows []documentRow
	err = s.db.WithContext(ctx).
		Where("collection = ? AND data @> ?::jsonb", collection, string(filter)).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, err := rowToDocument(row)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

func (s *PostgresStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	row := documentRow{
		Collection: collection,
		ID:         uuid.NewString(),
		Data:       datatypes.JSON(data),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", translatePgError(collection, err)
	}
	return row.ID, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection string, id string, fields map[string]any) error {
	updated, err := s.CompareAndUpdate(ctx, collection, id, nil, fields)
	if err != nil {
		return err
	}
	if !updated {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompareAndUpdate(
	ctx context.Context,
	collection string,
	id string,
	expect map[string]any,
	fields map[string]any,
) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return false, err
	}
	query := s.db.WithContext(ctx).
		Model(&documentRow{}).
		Where("collection = ? AND id = ?", collection, id)
	if len(expect) > 0 {
		condition, err := json.Marshal(expect)
		if err != nil {
			return false, err
		}
		query = query.Where("data @> ?::jsonb", string(condition))
	}
	result := query.Updates(map[string]any{
		"data":       gorm.Expr("data || ?::jsonb", string(patch)),
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return false, translatePgError(collection, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection string, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Delete(&documentRow{}).
		Error
}

func (s *PostgresStore) EnsureUnique(ctx context.Context, collection string, field string) error {
	if !identifierPattern.MatchString(collection) || !identifierPattern.MatchString(field) {
		return fmt.Errorf("invalid unique index target %s.%s", collection, field)
	}
	statement := fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS %s ON documents ((data->>'%s')) WHERE collection = '%s' AND COALESCE(data->>'%s', '') <> ''`,
		uniqueIndexName(collection, field), field, collection, field,
	)
	return s.db.WithContext(ctx).Exec(statement).Error
}

func uniqueIndexName(collection string, field string) string {
	return "documents_" + collection + "_" + field + "_key"
}

var uniqueIndexPattern = regexp.MustCompile(`^documents_([a-zA-Z][a-zA-Z0-9_]*?)_([a-zA-Z][a-zA-Z0-9]*)_key$`)

func translatePgError(collection string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	field := ""
	if match := uniqueIndexPattern.FindStringSubmatch(pgErr.ConstraintName); match != nil {
		field = match[2]
	}
	return &DuplicateError{Collection: collection, Field: field}
}

func rowToDocument(row documentRow) (*Document, error) {
	fields := map[string]any{}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &fields); err != nil {
			return nil, err
		}
	}
	return &Document{ID: row.ID, Fields: fields}, nil
}
