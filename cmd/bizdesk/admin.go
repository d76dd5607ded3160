package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/db"
	"github.com/aliuyar1234/bizdesk/internal/identity"
	"github.com/aliuyar1234/bizdesk/internal/retention"
	"github.com/aliuyar1234/bizdesk/internal/store/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBFlags are shared by commands that talk to Postgres directly.
type DBFlags struct {
	DBDSN   string        `name:"db-dsn" help:"Postgres DSN." env:"BZ_DB_DSN" required:""`
	Timeout time.Duration `help:"Overall command timeout." default:"5m"`
}

func (f DBFlags) open(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := postgres.NewPool(ctx, &postgres.PoolConfig{ConnString: f.DBDSN, MaxConns: 2, MinConns: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

type MigrateCmd struct {
	DBFlags
}

func (m *MigrateCmd) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	pool, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := db.RunMigrations(ctx, pool)
	if err != nil {
		return err
	}

	if len(applied) == 0 {
		fmt.Fprintln(os.Stdout, "Database is up to date.")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintf(os.Stdout, "Applied %s\n", name)
	}
	return nil
}

type AdminCmd struct {
	HealOwners HealOwnersCmd `cmd:"" help:"Insert the missing owner member row of every business."`
	Sweep      SweepCmd      `cmd:"" help:"Run the retention sweep once."`
}

type HealOwnersCmd struct {
	DBFlags
}

func (h *HealOwnersCmd) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	pool, err := h.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	healed, err := postgres.New(pool).Maintenance().HealBusinessOwners(ctx)
	if err != nil {
		return fmt.Errorf("failed to heal business owners: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Healed %d owner membership(s).\n", healed)
	return nil
}

type SweepCmd struct {
	DBFlags
	InviteDays  int `help:"Days after expiry before unused invites are deleted." env:"BZ_RETENTION_INVITE_DAYS" default:"30"`
	RequestDays int `help:"Days after decision before access requests are deleted." env:"BZ_RETENTION_REQUEST_DAYS" default:"90"`
}

func (s *SweepCmd) Run(ctx context.Context) error {
	if s.InviteDays < 1 || s.RequestDays < 1 {
		return fmt.Errorf("--invite-days and --request-days must be at least 1")
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	pool, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	sweeper := retention.NewSweeper(postgres.New(pool).Maintenance(), s.InviteDays, s.RequestDays)
	result, err := sweeper.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Deleted %d invite(s) and %d access request(s); healed %d owner membership(s).\n",
		result.InvitesDeleted, result.RequestsDeleted, result.OwnersHealed)
	return nil
}

// TokenCmd stands in for the identity provider when running locally.
type TokenCmd struct {
	Subject string        `help:"Identity id; a random one is used when empty."`
	Email   string        `help:"Identity email." required:""`
	Name    string        `help:"Display name."`
	TTL     time.Duration `help:"Token lifetime." default:"1h"`
	Secret  string        `help:"Signing secret." env:"BZ_IDENTITY_SECRET" required:""`
	Issuer  string        `help:"Token issuer." env:"BZ_IDENTITY_ISSUER"`
}

func (t *TokenCmd) Run() error {
	id := uuid.New()
	if t.Subject != "" {
		parsed, err := uuid.Parse(t.Subject)
		if err != nil {
			return fmt.Errorf("invalid --subject: %w", err)
		}
		id = parsed
	}

	token, err := identity.NewVerifier(t.Secret, t.Issuer).Issue(identity.Identity{
		ID:    id,
		Email: identity.NormalizeEmail(t.Email),
		Name:  t.Name,
	}, t.TTL)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, token)
	return nil
}
