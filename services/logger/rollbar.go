package logsvc

import (
	"log"
	"strconv"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/user"
)

type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewRollbarLogger returns a Logger printing to std and reporting to rollbar.
// Reporting is disabled in debug & test mode.
func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.Debug && !conf.TestMode)
	return &RollbarLogger{std: std}
}

// Enable overrides the reporting switch chosen from the config, e.g. to silence rollbar in CLIs.
func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// actingUser splits the first user.User (or *user.User) out of args; the remaining args are
// reported as the error and extras of the rollbar item.
func actingUser(args []interface{}) (*user.User, []interface{}) {
	var acting *user.User
	rest := make([]interface{}, 0, len(args))
	for _, arg := range args {
		switch usr := arg.(type) {
		case user.User:
			if acting == nil {
				acting = &usr
			}
		case *user.User:
			if acting == nil && usr != nil {
				acting = usr
			}
		default:
			rest = append(rest, arg)
		}
	}
	return acting, rest
}

// emit reports to rollbar with the acting user as the item's person, then prints to std.
// The user is printed by id and email only, never as a struct.
func (l RollbarLogger) emit(report func(...interface{}), msg string, args []interface{}) {
	acting, rest := actingUser(args)
	if acting != nil {
		rollbar.SetPerson(strconv.FormatInt(acting.ID, 10), acting.Email, acting.Email)
	} else {
		rollbar.ClearPerson()
	}
	report(append([]interface{}{msg}, rest...)...)

	l.std.Println(msg)
	for _, arg := range rest {
		l.std.Printf("%+v\n", arg)
	}
	if acting != nil {
		l.std.Printf("user: %d <%s>\n", acting.ID, acting.Email)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) { l.emit(rollbar.Debug, msg, args) }

func (l RollbarLogger) Info(msg string, args ...interface{}) { l.emit(rollbar.Info, msg, args) }

func (l RollbarLogger) Warn(msg string, args ...interface{}) { l.emit(rollbar.Warning, msg, args) }

// Error reports an error item; pass the acting user.User along to attach it as the rollbar person.
func (l RollbarLogger) Error(msg string, args ...interface{}) { l.emit(rollbar.Error, msg, args) }

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.emit(rollbar.Critical, msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}
