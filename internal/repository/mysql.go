package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rowcoach/rowcoach-go/internal/crypto"
	"github.com/rowcoach/rowcoach-go/internal/model"
)

const mysqlDuplicateEntry = 1062

const userColumns = `id, email, password_hash, name, created_at, updated_at`

var _ UserRepository = (*MySQLUserRepository)(nil)

// MySQLUserRepository stores one row per user. Email uniqueness is enforced
// by a unique index instead of a scan.
type MySQLUserRepository struct {
	db    *sql.DB
	now   func() time.Time
	newID func() (string, error)
}

// NewMySQLUserRepository creates a new MySQLUserRepository.
func NewMySQLUserRepository(db *sql.DB) *MySQLUserRepository {
	return &MySQLUserRepository{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: crypto.NewID,
	}
}

// Create inserts a new user and sets the generated ID and timestamps on the user struct.
// A generated id that collides with an existing row is replaced and retried.
func (r *MySQLUserRepository) Create(ctx context.Context, user *model.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?)`

	for i := 0; i < maxIDAttempts; i++ {
		id, err := r.newID()
		if err != nil {
			return fmt.Errorf("generating user id: %w", err)
		}
		now := r.now()

		_, err = r.db.ExecContext(ctx, query, id, user.Email, user.PasswordHash, user.Name, now, now)
		if isPrimaryKeyCollision(err) {
			continue
		}
		if err != nil {
			if isDuplicateEntryError(err) {
				return ErrDuplicateEmail
			}
			return err
		}

		user.ID = id
		user.CreatedAt = now
		user.UpdatedAt = now
		return nil
	}

	return errors.New("could not generate a unique user id")
}

// List returns every user ordered by creation time.
func (r *MySQLUserRepository) List(ctx context.Context) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// GetByEmail retrieves a user by their email address.
func (r *MySQLUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	return scanUser(r.db.QueryRowContext(ctx, query, strings.TrimSpace(email)))
}

// GetByID retrieves a user by their ID.
func (r *MySQLUserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// Update locks the row, applies fn to it and writes it back in one transaction.
func (r *MySQLUserRepository) Update(ctx context.Context, id string, fn func(*model.User) error) (*model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ? FOR UPDATE`
	user, err := scanUser(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if err := fn(user); err != nil {
		return nil, err
	}
	user.ID = id
	user.UpdatedAt = r.now()

	update := `UPDATE users SET email = ?, password_hash = ?, name = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, update, user.Email, user.PasswordHash, user.Name, user.UpdatedAt, id); err != nil {
		if isDuplicateEntryError(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return user, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// isPrimaryKeyCollision reports a duplicate entry on the id column rather
// than the email index. MySQL names the key PRIMARY or <table>.PRIMARY.
func isPrimaryKeyCollision(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != mysqlDuplicateEntry {
		return false
	}
	return strings.Contains(myErr.Message, "PRIMARY'")
}

// isDuplicateEntryError checks if a MySQL error is a duplicate entry error (code 1062).
func isDuplicateEntryError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return err != nil && strings.Contains(err.Error(), "Duplicate entry")
}
