package user

import (
	"context"
	"crypto/rand"
	"encoding/csv"
	"io"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gradebook/core"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound           = core.NewNotFoundError("user not found")
	ErrEmailExists        = core.NewConflictError("a user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWrongPassword      = core.NewValidationError(nil, core.FieldError{Field: "current_password", Error: "wrong password"})

	tmpPwdAlphabet = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	tmpPwdLen      = 12
)

type (
	Repository interface {
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id int64) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		// UpdateUser saves every mutable column of usr.
		UpdateUser(ctx context.Context, usr User) (User, error)
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
	}
)

func NewService(repo Repository, mailSvc core.EmailService) *Service {
	return &Service{repo: repo, mailSvc: mailSvc}
}

// Create creates an active User with a generated temporary password which must be changed on first login.
func (svc *Service) Create(ctx context.Context, nu NewUser) (User, string, error) {
	pwd, err := generateTempPassword()
	if err != nil {
		return User{}, "", err
	}
	usr := User{
		Email:              nu.Email,
		Role:               nu.Role,
		Status:             StatusActive,
		MustChangePassword: true,
		CreatedAt:          NowFunc().UTC(),
	}
	if err = usr.SetPassword(pwd); err != nil {
		return User{}, "", errors.Wrap(err, "setting password")
	}
	if usr, err = svc.repo.CreateUser(ctx, usr); err != nil {
		return User{}, "", errors.Wrap(err, "inserting user")
	}
	svc.sendCredentialsMail(usr, pwd)
	return usr, pwd, nil
}

// Import creates one user per `email,role` CSV row. A header row is skipped when present.
// Rows failing validation or colliding with an existing email are reported, not fatal.
func (svc *Service) Import(ctx context.Context, r io.Reader, validate *validator.Validate) ([]ImportResult, error) {
	rdr := csv.NewReader(r)
	rdr.FieldsPerRecord = -1
	rdr.TrimLeadingSpace = true

	results := make([]ImportResult, 0)
	line := 0
	for {
		record, err := rdr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return results, core.NewValidationError(errors.Wrapf(err, "reading line %d", line))
		}
		if line == 1 && len(record) > 0 && core.CleanString(record[0], true) == "email" {
			continue
		}

		res := ImportResult{Line: line}
		if len(record) < 2 {
			res.Error = "expected 2 columns: email,role"
			results = append(results, res)
			continue
		}

		nu := NewUser{Email: record[0], Role: record[1]}
		if err = nu.Validate(validate); err != nil {
			res.Email = nu.Email
			res.Error = "invalid email or role"
			results = append(results, res)
			continue
		}
		res.Email = nu.Email

		usr, pwd, err := svc.Create(ctx, nu)
		switch {
		case err == nil:
			res.User = &usr
			res.TemporaryPassword = pwd
		case core.IsConflict(err):
			res.Error = errors.Cause(err).Error()
		default:
			return results, errors.Wrapf(err, "importing line %d", line)
		}
		results = append(results, res)
	}
	return results, nil
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, core.CleanOrdering(ordering, OrderingFields...))
}

func (svc *Service) GetByID(ctx context.Context, id int64) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

func (svc *Service) Update(ctx context.Context, id int64, uu UpdateUser) (User, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return User{}, errors.Wrap(err, "finding user by ID")
	}
	if uu.Email != "" {
		usr.Email = uu.Email
	}
	if uu.Role != "" {
		usr.Role = uu.Role
	}
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) SetStatus(ctx context.Context, id int64, status string) (User, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return User{}, errors.Wrap(err, "finding user by ID")
	}
	usr.Status = status
	return svc.repo.UpdateUser(ctx, usr)
}

// ResetPassword replaces the password with a new temporary one and forces a change on next login.
func (svc *Service) ResetPassword(ctx context.Context, id int64) (User, string, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return User{}, "", errors.Wrap(err, "finding user by ID")
	}
	pwd, err := generateTempPassword()
	if err != nil {
		return User{}, "", err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return User{}, "", errors.Wrap(err, "setting password")
	}
	usr.MustChangePassword = true
	if usr, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return User{}, "", errors.Wrap(err, "updating user")
	}
	svc.sendCredentialsMail(usr, pwd)
	return usr, pwd, nil
}

// Authenticate checks the credentials of an active User.
// Unknown emails, wrong passwords and inactive accounts all yield ErrInvalidCredentials.
func (svc *Service) Authenticate(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		if core.IsNotFound(err) {
			burnPasswordCheck(pwd)
			return User{}, ErrInvalidCredentials
		}
		return User{}, errors.Wrap(err, "finding user by email")
	}

	if err = usr.CheckPassword(pwd); err != nil {
		if err != ErrPasswordMismatch {
			return User{}, errors.Wrap(err, "checking password")
		}
		return User{}, ErrInvalidCredentials
	}
	if !usr.IsActive() {
		return User{}, ErrInvalidCredentials
	}

	if usr.NeedsRehash() {
		if err = usr.SetPassword(pwd); err != nil {
			return User{}, errors.Wrap(err, "rehashing password")
		}
	}
	usr.LastLogin = null.TimeFrom(NowFunc().UTC())
	if usr, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return User{}, errors.Wrap(err, "setting lastLogin")
	}
	return usr, nil
}

// ChangePassword sets a new password chosen by the user and clears the must-change flag.
func (svc *Service) ChangePassword(ctx context.Context, id int64, cp ChangePassword) (User, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return User{}, errors.Wrap(err, "finding user by ID")
	}
	if err = usr.CheckPassword(cp.CurrentPassword); err != nil {
		if err == ErrPasswordMismatch {
			return User{}, ErrWrongPassword
		}
		return User{}, errors.Wrap(err, "checking password")
	}
	if err = usr.SetPassword(cp.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr.MustChangePassword = false
	return svc.repo.UpdateUser(ctx, usr)
}

// SetPassword sets the password of the User with the given email without asking for a change.
func (svc *Service) SetPassword(ctx context.Context, email string, sp SetPassword) (User, error) {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return User{}, errors.Wrap(err, "finding user by email")
	}
	if err = usr.SetPassword(sp.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr.MustChangePassword = false
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) sendCredentialsMail(usr User, pwd string) {
	if svc.mailSvc == nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Address: usr.Email}},
		Subject:      "Your account",
		TemplateName: "credentials",
		TemplateData: map[string]interface{}{
			"Email":    usr.Email,
			"Role":     usr.Role,
			"Password": pwd,
		},
	})
}

// generateTempPassword returns a random password that satisfies the password policy.
func generateTempPassword() (string, error) {
	max := big.NewInt(int64(len(tmpPwdAlphabet)))
	for {
		var b strings.Builder
		for i := 0; i < tmpPwdLen; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", errors.Wrap(err, "generating password")
			}
			b.WriteByte(tmpPwdAlphabet[n.Int64()])
		}
		if pwd := b.String(); passwordPolicyViolation(pwd) == "" {
			return pwd, nil
		}
	}
}
