package main

import (
	"context"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/user"
)

func (cli *commandLine) resetPassword(email, pwd string) error {
	sp := user.SetPassword{Password: pwd}
	if err := sp.Validate(cli.validate); err != nil {
		return cli.describe(err)
	}
	_, err := cli.usrSvc.SetPassword(context.Background(), core.CleanString(email, true /* lower */), sp)
	return err
}
