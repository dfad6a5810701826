package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/taskq/internal/expr"
	"github.com/roach88/taskq/internal/identity"
	"github.com/roach88/taskq/internal/store"
	"github.com/roach88/taskq/internal/taskservice"
)

// session is an open database plus everything a command needs to query
// and change it as the configured principal.
type session struct {
	store   *store.Store
	service *taskservice.Service
	groups  identity.GroupResolver
	logger  *slog.Logger
	out     *OutputFormatter
}

func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg := opts.Config
	logger := opts.Logger

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database, store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	var groups identity.GroupResolver = st
	if len(cfg.Groups) > 0 {
		groups = principalGroups(cfg.Principal, cfg.Groups, st)
	}
	if cfg.GroupCacheTTL > 0 {
		groups = identity.NewCached(groups, cfg.GroupCacheSize, cfg.GroupCacheTTL, logger)
	}

	svc := taskservice.New(st,
		taskservice.WithGroupResolver(groups),
		taskservice.WithLogger(logger),
	)
	return &session{
		store:   st,
		service: svc,
		groups:  groups,
		logger:  logger,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}, nil
}

// principalGroups answers with groups for the principal and defers to next
// for everyone else.
func principalGroups(principal string, groups []string, next identity.GroupResolver) identity.GroupResolver {
	return identity.GroupResolverFunc(func(ctx context.Context, userID string) ([]string, error) {
		if userID == principal {
			return groups, nil
		}
		return next.GroupsForUser(ctx, userID)
	})
}

// evalContext is the expression context for the principal at the current
// instant.
func (s *session) evalContext(ctx context.Context, principal string) (expr.Context, error) {
	ec := expr.Context{Now: time.Now(), Principal: principal}
	if principal == "" {
		return ec, nil
	}
	groups, err := s.groups.GroupsForUser(ctx, principal)
	if err != nil {
		return ec, fail("failed to resolve groups", err)
	}
	ec.PrincipalGroups = groups
	return ec, nil
}

func (s *session) close() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}
