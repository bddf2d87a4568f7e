package rbac

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// BootFlagKey names the persisted flag guarding default-role seeding.
const BootFlagKey = "rbac_default_roles_seeded"

// BootState tracks the guard's progress through its state machine.
type BootState int32

const (
	// Unseeded means the guard has not yet consulted the flag.
	Unseeded BootState = iota
	// Seeding means this instance won the flag and is creating roles.
	Seeding
	// Seeded means seeding finished here or already happened elsewhere.
	Seeded
)

// FlagRepositoryPort is the durable coordination primitive for one-time
// initialization. AcquireFlag must flip the named flag false to true as a
// single conditional write, creating it true when absent; it reports whether
// this caller performed the flip. A read followed by a separate write is a
// race between concurrently starting instances and is not a valid
// implementation.
type FlagRepositoryPort interface {
	AcquireFlag(ctx context.Context, key string) (bool, error)
}

// RoleCreator is the role store slice the seed step uses.
type RoleCreator interface {
	Create(ctx context.Context, input RoleCreate) (Role, error)
}

// Guard runs default-role seeding at most once per backing store. The flag
// is written before the seed action runs, so a crash mid-seed never retries
// against a store that may already hold some of the roles; recovering from
// that state is a manual operation (the log lists what was created).
type Guard struct {
	flags  FlagRepositoryPort
	perms  PermissionReader
	roles  RoleCreator
	logger *slog.Logger
	state  atomic.Int32
}

// NewGuard constructs a bootstrap guard.
func NewGuard(flags FlagRepositoryPort, perms PermissionReader, roles RoleCreator, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{flags: flags, perms: perms, roles: roles, logger: logger}
}

// State reports the guard's current state.
func (g *Guard) State() BootState {
	return BootState(g.state.Load())
}

// RunOnce seeds the default roles if no instance has done so against this
// store. Must run after a reconciliation pass, since it resolves permission
// names against live records. Losing the flag race is a no-op, not an error.
func (g *Guard) RunOnce(ctx context.Context, defaults []DefaultRole) error {
	acquired, err := g.flags.AcquireFlag(ctx, BootFlagKey)
	if err != nil {
		return err
	}
	if !acquired {
		g.state.Store(int32(Seeded))
		g.logger.Info("default roles already seeded, skipping")
		return nil
	}

	g.state.Store(int32(Seeding))
	if err := g.seed(ctx, defaults); err != nil {
		// The flag stays true: rerunning against partially created roles
		// would trip role name uniqueness.
		return err
	}
	g.state.Store(int32(Seeded))
	return nil
}

func (g *Guard) seed(ctx context.Context, defaults []DefaultRole) error {
	for _, def := range defaults {
		ids, err := g.resolveNames(ctx, def)
		if err != nil {
			return err
		}
		role, err := g.roles.Create(ctx, RoleCreate{
			Name:          def.Name,
			Title:         def.Title,
			Description:   def.Description,
			PermissionIDs: ids,
			IsDynamic:     HasDynamicPrefix(def.Name),
		})
		if err != nil {
			return err
		}
		g.logger.Info("default role seeded", slog.String("id", role.ID), slog.String("name", role.Name))
	}
	return nil
}

func (g *Guard) resolveNames(ctx context.Context, def DefaultRole) ([]string, error) {
	names := uniqueStrings(def.PermissionNames)
	if len(names) == 0 {
		return nil, nil
	}
	perms, err := g.perms.GetPermissions(ctx, PermissionFilter{Names: names})
	if err != nil {
		return nil, err
	}
	if len(perms) != len(names) {
		resolved := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			resolved[p.Name] = struct{}{}
		}
		var missing []string
		for _, name := range names {
			if _, ok := resolved[name]; !ok {
				missing = append(missing, name)
			}
		}
		return nil, &MissingPermissionError{RoleName: def.Name, PermissionNames: missing}
	}
	ids := make([]string, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	return ids, nil
}
