package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"meal-optimizer/internal/app"
	"meal-optimizer/internal/config"
	"meal-optimizer/internal/database"
	"meal-optimizer/internal/logging"
	"meal-optimizer/internal/pantry"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.NewDB(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.NewApp(db.SQL, logger, os.Stdout)
	if err := run(ctx, application, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("Command failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, command string, args []string) error {
	switch command {
	case "solve":
		fs := flag.NewFlagSet("solve", flag.ExitOnError)
		file := fs.String("file", "-", "Problem JSON file, - for stdin")
		fs.Parse(args)

		r, closeFn, err := openInput(*file)
		if err != nil {
			return err
		}
		defer closeFn()
		_, err = a.Solve(ctx, r)
		return err

	case "plan":
		fs := flag.NewFlagSet("plan", flag.ExitOnError)
		owner := fs.String("owner", pantry.DefaultOwner, "Pantry owner")
		days := fs.Int("days", 7, "Number of days to plan")
		timeout := fs.Int("timeout-ms", 0, "Search time limit in milliseconds")
		fs.Parse(args)

		_, err := a.SolveStored(ctx, pantry.PlanRequest{Owner: *owner, Days: *days, TimeoutMS: *timeout})
		return err

	case "suggest":
		fs := flag.NewFlagSet("suggest", flag.ExitOnError)
		file := fs.String("file", "-", "Suggestion request JSON file, - for stdin")
		fs.Parse(args)

		r, closeFn, err := openInput(*file)
		if err != nil {
			return err
		}
		defer closeFn()
		_, err = a.Suggest(ctx, r)
		return err

	case "import-recipe":
		fs := flag.NewFlagSet("import-recipe", flag.ExitOnError)
		owner := fs.String("owner", pantry.DefaultOwner, "Pantry owner")
		interval := fs.Duration("interval", 2*time.Second, "Minimum wait between fetches")
		fs.Parse(args)
		if fs.NArg() == 0 {
			return fmt.Errorf("import-recipe needs at least one URL")
		}

		report, err := a.ImportRecipes(ctx, *owner, fs.Args(), *interval)
		if err != nil {
			return err
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d of %d recipes failed to import", len(report.Failed), fs.NArg())
		}
		return nil

	case "pantry-add":
		fs := flag.NewFlagSet("pantry-add", flag.ExitOnError)
		owner := fs.String("owner", pantry.DefaultOwner, "Pantry owner")
		ingredient := fs.String("ingredient", "", "Ingredient id")
		name := fs.String("name", "", "Display name")
		qty := fs.Float64("qty", 1, "Quantity on hand")
		unit := fs.String("unit", "", "Unit")
		days := fs.Int("expires-in", -1, "Days until expiry, -1 for none")
		fs.Parse(args)

		item := &pantry.Item{Owner: *owner, IngredientID: *ingredient, Name: *name, Quantity: *qty, Unit: *unit}
		if *days >= 0 {
			expires := time.Now().AddDate(0, 0, *days)
			item.ExpiresOn = &expires
		}
		return a.AddItem(ctx, item)

	case "stats":
		fs := flag.NewFlagSet("stats", flag.ExitOnError)
		days := fs.Int("days", 7, "Report the last N days")
		fs.Parse(args)
		return a.Stats(ctx, *days)

	case "runs-cleanup":
		fs := flag.NewFlagSet("runs-cleanup", flag.ExitOnError)
		days := fs.Int("days", 30, "Keep records for the last N days")
		fs.Parse(args)

		runs, history, err := a.CleanupRuns(ctx, *days)
		if err != nil {
			return err
		}
		fmt.Printf("Successfully removed %d old runs and %d metric records.\n", runs, history)
		return nil

	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

func printUsage() {
	fmt.Println("Usage: meal-optimizer <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  solve          Optimize a problem read from a JSON file")
	fmt.Println("  plan           Optimize over the stored pantry")
	fmt.Println("  suggest        Rank recipes for a suggestion request")
	fmt.Println("  import-recipe  Import recipes from web pages into the pantry")
	fmt.Println("  pantry-add     Add an inventory row to the pantry")
	fmt.Println("  stats          Show solve totals per day")
	fmt.Println("  runs-cleanup   Remove old runs and metric records")
}
