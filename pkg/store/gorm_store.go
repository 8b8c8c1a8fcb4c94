package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"docmind/pkg/domain"
)

const migrateLockID int64 = 73217329

// pgForeignKeyViolation is the SQLSTATE for foreign_key_violation.
const pgForeignKeyViolation = "23503"

// GormStore implements Store using GORM. Production runs on Postgres; any
// other dialector (sqlite in tests) skips the advisory lock and FK DDL and
// relies on the in-transaction existence checks.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a Postgres DB and runs migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database URL required")
	}
	return OpenGormStore(postgres.Open(dsn))
}

// OpenGormStore opens dialector and runs migrations.
func OpenGormStore(dialector gorm.Dialector) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	isPostgres := db.Dialector.Name() == "postgres"
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &DocumentModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if !isPostgres {
			return nil
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM messages m
				WHERE NOT EXISTS (SELECT 1 FROM documents d WHERE d.id = m.document_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = current_schema()
					AND table_name = 'documents'
					AND constraint_name = 'documents_owner_id_fkey'
				) THEN
					ALTER TABLE documents
					ADD CONSTRAINT documents_owner_id_fkey
					FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE RESTRICT;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = current_schema()
					AND table_name = 'messages'
					AND constraint_name = 'messages_document_id_fkey'
				) THEN
					ALTER TABLE messages
					ADD CONSTRAINT messages_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}
	if isPostgres {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func isForeignKeyViolation(err error) bool {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// EnsureUser returns the user with the same id, else the one with the same
// email, else stores u as a new user.
func (s *GormStore) EnsureUser(u domain.User) (domain.User, error) {
	u.ID = strings.TrimSpace(u.ID)
	u.Email = strings.TrimSpace(u.Email)
	if u.ID == "" {
		return domain.User{}, fmt.Errorf("%w: user id required", domain.ErrValidation)
	}
	var out domain.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing UserModel
		err := tx.First(&existing, "id = ?", u.ID).Error
		if err == nil {
			out = userFromModel(existing)
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if u.Email != "" {
			err = tx.First(&existing, "email = ?", u.Email).Error
			if err == nil {
				out = userFromModel(existing)
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now().UTC()
		}
		model := userToModel(u)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		out = userFromModel(model)
		return nil
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("ensure user: %w", err)
	}
	return out, nil
}

// GetUser fetches a user by ID.
func (s *GormStore) GetUser(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateDocument inserts d after verifying its owner exists. A missing owner
// fails with domain.ErrOwnerNotFound; no placeholder user is created.
func (s *GormStore) CreateDocument(d domain.Document) error {
	model, err := documentToModel(d)
	if err != nil {
		return fmt.Errorf("encode document metadata: %w", err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var owners int64
		if err := tx.Model(&UserModel{}).Where("id = ?", d.OwnerID).Count(&owners).Error; err != nil {
			return fmt.Errorf("check owner: %w", err)
		}
		if owners == 0 {
			return fmt.Errorf("%w: %s", domain.ErrOwnerNotFound, d.OwnerID)
		}
		if err := tx.Create(&model).Error; err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: %s", domain.ErrOwnerNotFound, d.OwnerID)
			}
			return fmt.Errorf("create document: %w", err)
		}
		return nil
	})
}

// GetDocument fetches a document without its messages.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// FindDocumentsByUser returns a user's documents, newest first.
func (s *GormStore) FindDocumentsByUser(userID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("owner_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, documentFromModel(m))
	}
	return docs, nil
}

// FindDocumentWithMessages returns the document with its full history,
// oldest message first.
func (s *GormStore) FindDocumentWithMessages(id string) (domain.Document, error) {
	doc, ok, err := s.GetDocument(id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	var models []MessageModel
	if err := s.db.Where("document_id = ?", id).Order("created_at ASC, seq ASC").Find(&models).Error; err != nil {
		return domain.Document{}, err
	}
	doc.Messages = make([]domain.Message, 0, len(models))
	for _, m := range models {
		doc.Messages = append(doc.Messages, messageFromModel(m))
	}
	return doc, nil
}

// RenameDocument updates the display name only.
func (s *GormStore) RenameDocument(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name required", domain.ErrValidation)
	}
	return s.updateDocumentColumn(id, "display_name", name)
}

// SetSummary records the generated summary.
func (s *GormStore) SetSummary(id, summary string) error {
	return s.updateDocumentColumn(id, "summary", summary)
}

func (s *GormStore) updateDocumentColumn(id, column, value string) error {
	res := s.db.Model(&DocumentModel{}).Where("id = ?", id).Updates(map[string]any{
		column:       value,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document and all of its messages.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&DocumentModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}

// AppendMessage records a message on an existing document.
func (s *GormStore) AppendMessage(documentID string, role domain.Role, content string) (domain.Message, error) {
	if !role.Valid() {
		return domain.Message{}, fmt.Errorf("%w: invalid role %q", domain.ErrValidation, role)
	}
	model := MessageModel{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Role:       string(role),
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var docs int64
		if err := tx.Model(&DocumentModel{}).Where("id = ?", documentID).Count(&docs).Error; err != nil {
			return err
		}
		if docs == 0 {
			return fmt.Errorf("document %s: %w", documentID, domain.ErrForeignKey)
		}
		if err := tx.Create(&model).Error; err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("document %s: %w", documentID, domain.ErrForeignKey)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	return messageFromModel(model), nil
}

// ListRecentMessages returns the newest limit messages, oldest first.
func (s *GormStore) ListRecentMessages(documentID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	var models []MessageModel
	if err := s.db.Where("document_id = ?", documentID).
		Order("created_at DESC, seq DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}
