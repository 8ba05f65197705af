package sqlxrepos

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/user"
)

const userColumns = "id, email, password_hash, role, status, must_change_password, created_at, last_login"

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	id, err := insert(ctx, repo.db,
		`INSERT INTO users (email, password_hash, role, status, must_change_password, created_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		usr.Email, usr.PasswordHash, usr.Role, usr.Status, usr.MustChangePassword, usr.CreatedAt.UTC(), usr.LastLogin,
	)
	if err != nil {
		if err = trapErr(err, nil, "inserting user"); core.IsConflict(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, err
	}
	usr.ID = id
	return usr, nil
}

func (repo *userRepository) get(ctx context.Context, msg, cond string, arg interface{}) (user.User, error) {
	var usr user.User
	q := "SELECT " + userColumns + " FROM users WHERE " + cond
	if err := repo.db.GetContext(ctx, &usr, repo.db.Rebind(q), arg); err != nil {
		return user.User{}, trapErr(err, user.ErrNotFound, msg)
	}
	return usr, nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id int64) (user.User, error) {
	return repo.get(ctx, "finding user by ID", "id = ?", id)
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.get(ctx, "finding user by email", "email = ?", email)
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	w := new(where)
	if filter != nil {
		if filter.Search != "" {
			w.add("LOWER(email) LIKE ?", "%"+strings.ToLower(filter.Search)+"%")
		}
		if filter.Role != "" {
			w.add("role = ?", filter.Role)
		}
		if filter.Status != "" {
			w.add("status = ?", filter.Status)
		}
	}

	orderBy := " ORDER BY id"
	if ordering = core.CleanOrdering(ordering, user.OrderingFields...); len(ordering) > 0 {
		orderList := make([]string, 0, len(ordering))
		for _, ord := range ordering {
			orderList = append(orderList, ord.String())
		}
		orderBy = " ORDER BY " + strings.Join(orderList, ", ")
	}

	users := make([]user.User, 0)
	if err := selectWhere(ctx, repo.db, &users, "SELECT "+userColumns+" FROM users", w, orderBy); err != nil {
		return nil, trapErr(err, nil, "querying users")
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := execOne(ctx, repo.db, user.ErrNotFound, "updating user",
		`UPDATE users SET email = ?, password_hash = ?, role = ?, status = ?, must_change_password = ?, last_login = ?
		WHERE id = ?`,
		usr.Email, usr.PasswordHash, usr.Role, usr.Status, usr.MustChangePassword, usr.LastLogin, usr.ID,
	)
	if err != nil {
		if core.IsConflict(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, err
	}
	return repo.GetUserByID(ctx, usr.ID)
}
