package main

import (
	"context"

	"github.com/aliuyar1234/bizdesk/internal/app"
	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

var cli struct {
	Version kong.VersionFlag

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the HTTP API and the retention scheduler."`
	Migrate MigrateCmd `cmd:"" help:"Apply pending database migrations."`
	Admin   AdminCmd   `cmd:"" help:"Operator maintenance commands."`
	Token   TokenCmd   `cmd:"" help:"Issue an identity token for local development."`
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("bizdesk"),
		kong.Description("Multi-tenant membership and access service."),
		kong.Vars{
			"version": app.Version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	cmd.FatalIfErrorf(cmd.Run())
}
