package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/user"
)

// addUser creates an active user.User with the given password, or reactivates and updates an existing one.
// Unlike accounts created by an admin, the password does not have to be changed on first login.
func (cli *commandLine) addUser(email, role, pwd string) error {
	nu := user.NewUser{Email: email, Role: role}
	if err := nu.Validate(cli.validate); err != nil {
		return cli.describe(err)
	}
	if err := (user.SetPassword{Password: pwd}).Validate(cli.validate); err != nil {
		return cli.describe(err)
	}

	ctx := context.Background()
	usr, err := cli.usrRepo.GetUserByEmail(ctx, nu.Email)
	exists := err == nil
	if err != nil {
		if !core.IsNotFound(err) {
			return errors.Wrap(err, "finding user by email")
		}
		usr = user.User{Email: nu.Email, CreatedAt: user.NowFunc().UTC()}
	}
	usr.Role = nu.Role
	usr.Status = user.StatusActive
	usr.MustChangePassword = false
	if err = usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "setting password")
	}

	if exists {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	}
	return err
}
