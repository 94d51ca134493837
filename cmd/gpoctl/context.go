package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"genflow/internal/adapter/repo"
	"genflow/internal/bootstrap"
	"genflow/internal/infra"
)

// userDirectory resolves operator-supplied emails.
type userDirectory interface {
	LookupUserID(ctx context.Context, email string) (string, error)
}

// session is everything a command may touch.
type session struct {
	services *bootstrap.Services
	users    userDirectory
	runner   infra.TxRunner
	close    func()
}

type openFunc func(ctx context.Context) (*session, error)

// openSession connects with the process configuration. Logs go to stderr so
// command output stays parseable.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().
		Timestamp().
		Logger()
	svc, err := bootstrap.Open(ctx, cfg, &logger)
	if err != nil {
		return nil, err
	}
	return &session{
		services: svc,
		users:    repo.NewLedgerStore(svc.Runner),
		runner:   svc.Runner,
		close:    svc.Close,
	}, nil
}

type commandContext struct {
	open openFunc

	once sync.Once
	sess *session
	err  error
}

func newCommandContext(open openFunc) *commandContext {
	return &commandContext{open: open}
}

func (c *commandContext) session(ctx context.Context) (*session, error) {
	c.once.Do(func() {
		c.sess, c.err = c.open(ctx)
	})
	return c.sess, c.err
}

func (c *commandContext) closeSession() {
	if c.sess != nil && c.sess.close != nil {
		c.sess.close()
	}
}

// resolveUser accepts either a user id or an email.
func (c *commandContext) resolveUser(ctx context.Context, userID, email string) (string, error) {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(email)
	switch {
	case userID != "" && email != "":
		return "", fmt.Errorf("use either --user or --email, not both")
	case userID != "":
		return userID, nil
	case email == "":
		return "", fmt.Errorf("--user or --email is required")
	}
	sess, err := c.session(ctx)
	if err != nil {
		return "", err
	}
	id, err := sess.users.LookupUserID(ctx, email)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", email, err)
	}
	return id, nil
}
