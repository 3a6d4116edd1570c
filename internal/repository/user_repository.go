package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-feed-engine/internal/models"
)

// UserRepository reads the directory of accounts owned by the identity subsystem.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, full_name, email, role, department, year, active, updated_at`

type userRow struct {
	ID         string    `db:"id"`
	FullName   string    `db:"full_name"`
	Email      string    `db:"email"`
	Role       string    `db:"role"`
	Department *string   `db:"department"`
	Year       *string   `db:"year"`
	Active     bool      `db:"active"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r userRow) toModel() models.User {
	role, _ := models.ParseRole(r.Role)
	user := models.User{
		ID:         r.ID,
		FullName:   r.FullName,
		Email:      r.Email,
		Role:       role,
		Department: models.NormalizeDepartment(r.Department),
		Active:     r.Active,
		UpdatedAt:  r.UpdatedAt,
	}
	if role == models.RoleStudent {
		user.Year = models.YearPtr(r.Year)
	}
	return user
}

// FindByID returns a directory entry or sql.ErrNoRows.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var row userRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	user := row.toModel()
	return &user, nil
}

// ListByDepartment returns every account of the department, compared case-insensitively.
func (r *UserRepository) ListByDepartment(ctx context.Context, department string) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE UPPER(TRIM(department)) = $1 ORDER BY id`
	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, query, strings.ToUpper(strings.TrimSpace(department))); err != nil {
		return nil, fmt.Errorf("list users by department: %w", err)
	}
	return toUsers(rows), nil
}

// ListAll returns the full directory.
func (r *UserRepository) ListAll(ctx context.Context) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`
	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return toUsers(rows), nil
}

func toUsers(rows []userRow) []models.User {
	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users
}
