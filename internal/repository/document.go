package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rowcoach/rowcoach-go/internal/crypto"
	"github.com/rowcoach/rowcoach-go/internal/docstore"
	"github.com/rowcoach/rowcoach-go/internal/model"
)

const (
	// MaxWriteAttempts bounds the read-modify-write retries after a lost race.
	MaxWriteAttempts = 3

	maxIDAttempts = 5
)

var _ UserRepository = (*DocumentUserRepository)(nil)

// DocumentStore reads and replaces the single users document.
type DocumentStore interface {
	Get(ctx context.Context, v any) (string, error)
	Put(ctx context.Context, record any, etag string) (string, error)
}

// DocumentUserRepository keeps every user in one remote JSON document.
// Each write reads the whole document, changes a copy and writes it back
// with the read's ETag as If-Match.
type DocumentUserRepository struct {
	store DocumentStore
	mu    sync.Mutex
	now   func() time.Time
	newID func() (string, error)
}

// NewDocumentUserRepository creates a DocumentUserRepository on top of store.
func NewDocumentUserRepository(store DocumentStore) *DocumentUserRepository {
	return &DocumentUserRepository{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: crypto.NewID,
	}
}

// List returns every stored user, password hashes included.
func (r *DocumentUserRepository) List(ctx context.Context) ([]model.User, error) {
	doc, _, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Users, nil
}

// GetByID retrieves a user by id.
func (r *DocumentUserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	doc, _, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	if i := indexByID(doc.Users, id); i >= 0 {
		u := doc.Users[i]
		return &u, nil
	}
	return nil, ErrUserNotFound
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *DocumentUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	doc, _, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	if i := indexByEmail(doc.Users, email); i >= 0 {
		u := doc.Users[i]
		return &u, nil
	}
	return nil, ErrUserNotFound
}

// Create appends user to the document. It sets ID, CreatedAt and UpdatedAt
// on the passed struct.
func (r *DocumentUserRepository) Create(ctx context.Context, user *model.User) error {
	return r.mutate(ctx, func(doc *model.UsersDocument) error {
		if indexByEmail(doc.Users, user.Email) >= 0 {
			return ErrDuplicateEmail
		}

		id, err := r.uniqueID(doc.Users)
		if err != nil {
			return err
		}
		now := r.now()
		user.ID = id
		user.CreatedAt = now
		user.UpdatedAt = now

		doc.Users = append(doc.Users, *user)
		return nil
	})
}

// Update applies fn to a copy of the user with the given id and stores the
// result. fn may run more than once if the document changes concurrently.
func (r *DocumentUserRepository) Update(ctx context.Context, id string, fn func(*model.User) error) (*model.User, error) {
	var updated model.User
	err := r.mutate(ctx, func(doc *model.UsersDocument) error {
		i := indexByID(doc.Users, id)
		if i < 0 {
			return ErrUserNotFound
		}

		u := doc.Users[i]
		if err := fn(&u); err != nil {
			return err
		}
		if j := indexByEmail(doc.Users, u.Email); j >= 0 && j != i {
			return ErrDuplicateEmail
		}
		u.ID = id
		u.UpdatedAt = r.now()

		doc.Users[i] = u
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *DocumentUserRepository) load(ctx context.Context) (model.UsersDocument, string, error) {
	var doc model.UsersDocument
	etag, err := r.store.Get(ctx, &doc)
	if err != nil {
		return model.UsersDocument{}, "", fmt.Errorf("loading users document: %w", err)
	}
	return doc, etag, nil
}

// mutate runs one read-modify-write cycle, retrying when the store rejects
// the write because the document moved on. Writers in this process are
// serialized so they never race each other.
func (r *DocumentUserRepository) mutate(ctx context.Context, fn func(*model.UsersDocument) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 1; attempt <= MaxWriteAttempts; attempt++ {
		doc, etag, err := r.load(ctx)
		if err != nil {
			return err
		}
		loaded := doc.Revision

		if err := fn(&doc); err != nil {
			return err
		}
		doc.Revision++

		// Without an ETag the store cannot refuse a stale write; compare
		// revisions instead. This narrows the race to the re-read and the PUT.
		if etag == "" {
			moved, err := r.revisionMoved(ctx, loaded)
			if err != nil {
				return err
			}
			if moved {
				slog.Warn("users document revision moved during write, retrying",
					"attempt", attempt, "revision", loaded)
				continue
			}
		}

		_, err = r.store.Put(ctx, doc, etag)
		if errors.Is(err, docstore.ErrPreconditionFailed) {
			slog.Warn("users document changed during write, retrying",
				"attempt", attempt, "revision", doc.Revision)
			continue
		}
		if err != nil {
			return fmt.Errorf("saving users document: %w", err)
		}
		return nil
	}

	return ErrConflict
}

func (r *DocumentUserRepository) revisionMoved(ctx context.Context, loaded int64) (bool, error) {
	current, _, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	return current.Revision != loaded, nil
}

func (r *DocumentUserRepository) uniqueID(users []model.User) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := r.newID()
		if err != nil {
			return "", fmt.Errorf("generating user id: %w", err)
		}
		if indexByID(users, id) < 0 {
			return id, nil
		}
	}
	return "", errors.New("could not generate a unique user id")
}

func indexByID(users []model.User, id string) int {
	for i := range users {
		if users[i].ID == id {
			return i
		}
	}
	return -1
}

func indexByEmail(users []model.User, email string) int {
	email = strings.TrimSpace(email)
	for i := range users {
		if strings.EqualFold(strings.TrimSpace(users[i].Email), email) {
			return i
		}
	}
	return -1
}
