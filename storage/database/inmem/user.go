package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) emailTaken(email string, excludedID int64) bool {
	for id, usr := range repo.db.users.rows {
		if id != excludedID && usr.Email == email {
			return true
		}
	}
	return false
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if repo.emailTaken(usr.Email, 0) {
		return user.User{}, user.ErrEmailExists
	}
	usr.ID = repo.db.users.nextID()
	repo.db.users.rows[usr.ID] = usr
	return usr, nil
}

func (repo *userRepository) GetUserByID(_ context.Context, id int64) (user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if usr, ok := repo.db.users.rows[id]; ok {
		return usr, nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, usr := range repo.db.users.rows {
		if usr.Email == email {
			return usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	users := make([]user.User, 0)
	for _, usr := range repo.db.users.sorted() {
		if filter != nil {
			if filter.Search != "" && !strings.Contains(strings.ToLower(usr.Email), strings.ToLower(filter.Search)) {
				continue
			}
			if filter.Role != "" && usr.Role != filter.Role {
				continue
			}
			if filter.Status != "" && usr.Status != filter.Status {
				continue
			}
		}
		users = append(users, usr)
	}

	if ordering = core.CleanOrdering(ordering, user.OrderingFields...); len(ordering) > 0 {
		sort.SliceStable(users, func(i, j int) bool {
			for _, ord := range ordering {
				c := compareUsers(users[i], users[j], ord.Field)
				if c == 0 {
					continue
				}
				if ord.Ascending {
					return c < 0
				}
				return c > 0
			}
			return false
		})
	}
	return users, nil
}

func compareUsers(a, b user.User, field string) int {
	switch field {
	case "id":
		return compareInt(a.ID, b.ID)
	case "email":
		return strings.Compare(a.Email, b.Email)
	case "role":
		return strings.Compare(a.Role, b.Role)
	case "status":
		return strings.Compare(a.Status, b.Status)
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "last_login":
		// NULLs sort first, as in an ascending sqlite ORDER BY
		switch {
		case !a.LastLogin.Valid && !b.LastLogin.Valid:
			return 0
		case !a.LastLogin.Valid:
			return -1
		case !b.LastLogin.Valid:
			return 1
		}
		return a.LastLogin.Time.Compare(b.LastLogin.Time)
	}
	return 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.users.rows[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	if repo.emailTaken(usr.Email, usr.ID) {
		return user.User{}, user.ErrEmailExists
	}
	orig.Email = usr.Email
	orig.PasswordHash = usr.PasswordHash
	orig.Role = usr.Role
	orig.Status = usr.Status
	orig.MustChangePassword = usr.MustChangePassword
	orig.LastLogin = usr.LastLogin

	repo.db.users.rows[usr.ID] = orig
	return orig, nil
}
