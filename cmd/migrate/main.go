// Command migrate manages the ledger schema.
//
//	migrate up | down | status | to <version> | validate | create <name>
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/gridpay-backend/internal/bootstrap"
	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/db"
	"github.com/angelmondragon/gridpay-backend/pkg/migrate"
)

const usage = "usage: migrate up|down|status|to <version>|validate [dir]|create <name>"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	_ = godotenv.Load()

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string) error {
	// create and validate work on files only.
	switch cmd {
	case "create":
		if len(args) != 1 {
			return errors.New(usage)
		}
		path, err := migrate.Create(migrate.SourceDir, args[0], time.Now())
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "validate":
		var fsys fs.FS = migrate.Embedded()
		if len(args) == 1 {
			fsys = os.DirFS(args[0])
		}
		if err := migrate.Validate(fsys); err != nil {
			return err
		}
		fmt.Println("migrations ok")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logg := bootstrap.NewLogger("migrate", cfg.App)
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": cmd})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer dbClient.Close()
	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return err
	}
	m, err := migrate.New(sqlDB, migrate.Embedded(), logg)
	if err != nil {
		return err
	}

	switch cmd {
	case "up":
		return m.Up(ctx)
	case "down":
		return m.Down(ctx)
	case "to":
		if len(args) != 1 {
			return errors.New(usage)
		}
		version, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("version %q must be YYYYMMDDHHMMSS", args[0])
		}
		return m.To(ctx, version)
	case "status":
		states, err := m.Status(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tSTATE\tFILE")
		for _, st := range states {
			state := "pending"
			if st.Applied {
				state = "applied"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", st.Version, state, st.Path)
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}
