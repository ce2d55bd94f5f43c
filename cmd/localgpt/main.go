package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/localgpt/localgpt"
	"github.com/localgpt/localgpt/config"
	"github.com/localgpt/localgpt/version"
)

const (
	minArgsCommand = 2
	argsCost       = 3
	maskedKeyShown = 4
	appName        = "localgpt"
)

func main() {
	if len(os.Args) < minArgsCommand {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "config":
		exitOnErr(cmdConfig(os.Args[2:]))
	case "cultures":
		exitOnErr(cmdCultures(os.Args[2:]))
	case "translate":
		exitOnErr(cmdTranslate(os.Args[2:]))
	case "set-language":
		exitOnErr(cmdSetLanguage(os.Args[2:]))
	case "cost":
		exitOnErr(cmdCost(os.Args[2:]))
	case "sessions":
		exitOnErr(cmdSessions(os.Args[2:]))
	case "api-key":
		exitOnErr(cmdAPIKey(os.Args[2:]))
	case "version":
		_, _ = fmt.Fprintln(os.Stdout, appName, version.String())
	case "help", "-h", "--help":
		usage()
	default:
		// #nosec G705 -- CLI output is not rendered in an HTML context.
		fmt.Fprintf(os.Stderr, "unknown command: %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stdout, "localgpt <command> [args]")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Commands:")
	fmt.Fprintln(os.Stdout, "  config [--config-dir DIR] [--format json|yaml] [--save]")
	fmt.Fprintln(os.Stdout, "  cultures [--config-dir DIR]")
	fmt.Fprintln(os.Stdout, "  translate [--config-dir DIR] [--culture ID] <key>...")
	fmt.Fprintln(os.Stdout, "  set-language [--config-dir DIR] <culture>")
	fmt.Fprintln(os.Stdout, "  cost [--config-dir DIR] <model> <prompt tokens> <completion tokens>")
	fmt.Fprintln(os.Stdout, "  sessions [--config-dir DIR]")
	fmt.Fprintln(os.Stdout, "  api-key set <key> | remove | show")
	fmt.Fprintln(os.Stdout, "  version")
}

func exitOnErr(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// command parses args with the flags every command shares and starts the app.
type command struct {
	fs        *flag.FlagSet
	configDir string
}

func newCommand(name string) *command {
	c := &command{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	c.fs.StringVar(&c.configDir, "config-dir", "", "directory holding appsettings files (default LOCALGPT_CONFIG_DIR or .)")
	return c
}

func (c *command) start(args []string) (context.Context, *localgpt.App, error) {
	if err := c.fs.Parse(args); err != nil {
		return nil, nil, err
	}

	var opts []localgpt.Option
	if c.configDir != "" {
		opts = append(opts, localgpt.WithConfigDir(c.configDir))
	}
	opts = append(opts, localgpt.WithVersion(version.Version))

	ctx, app := localgpt.NewApp(context.Background(), appName, opts...)
	if err := app.Start(ctx); err != nil {
		app.Log(ctx).WithError(err).Warn("started with errors")
	}
	return ctx, app, nil
}

func closeApp(ctx context.Context, app *localgpt.App) {
	if err := app.Close(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

func cmdConfig(args []string) error {
	c := newCommand("config")
	format := c.fs.String("format", "json", "output format: json or yaml")
	save := c.fs.Bool("save", false, "write the effective configuration back to the base file")

	ctx, app, err := c.start(args)
	if err != nil {
		return err
	}
	defer closeApp(ctx, app)

	if *save {
		if saveErr := app.ConfigResolver().Save(ctx); saveErr != nil {
			return saveErr
		}
	}

	cfg := app.Config(ctx)
	cfg.OpenAi.ApiKey = maskKey(cfg.OpenAi.ApiKey)

	var out []byte
	switch strings.ToLower(*format) {
	case "json":
		out, err = json.MarshalIndent(cfg, "", "  ")
	case "yaml", "yml":
		out, err = yaml.Marshal(cfg)
	default:
		return fmt.Errorf("unknown format: %s", *format)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(os.Stdout, strings.TrimSpace(string(out)))
	return nil
}

func cmdCultures(args []string) error {
	c := newCommand("cultures")
	ctx, app, err := c.start(args)
	if err != nil {
		return err
	}
	defer closeApp(ctx, app)

	current := app.Culture().CurrentCultureName()
	for _, culture := range app.Culture().SupportedCultures() {
		marker := " "
		if culture == current {
			marker = "*"
		}
		_, _ = fmt.Fprintf(os.Stdout, "%s %s\n", marker, culture)
	}
	return nil
}

func cmdTranslate(args []string) error {
	c := newCommand("translate")
	culture := c.fs.String("culture", "", "culture to resolve in instead of the active one")

	ctx, app, err := c.start(args)
	if err != nil {
		return err
	}
	defer closeApp(ctx, app)

	if c.fs.NArg() < 1 {
		return errors.New("at least one key is required")
	}

	for _, key := range c.fs.Args() {
		value := app.T(key)
		if *culture != "" {
			value = app.Catalog().ResolveIn(*culture, key)
		}
		_, _ = fmt.Fprintf(os.Stdout, "%s\t%s\n", key, value)
	}
	return nil
}

func cmdSetLanguage(args []string) error {
	c := newCommand("set-language")
	ctx, app, err := c.start(args)
	if err != nil {
		return err
	}
	defer closeApp(ctx, app)

	if c.fs.NArg() < 1 {
		return errors.New("culture is required")
	}
	if selectErr := app.Culture().Select(ctx, c.fs.Arg(0)); selectErr != nil {
		return fmt.Errorf("%w, supported: %s", selectErr, strings.Join(app.Culture().SupportedCultures(), ", "))
	}
	_, _ = fmt.Fprintln(os.Stdout, app.T("menu.settings.language"), app.Culture().CurrentCultureName())
	return nil
}

func cmdCost(args []string) error {
	c := newCommand("cost")
	ctx, app, err := c.start(args)
	if err != nil {
		return err
	}
	defer closeApp(ctx, app)

	if c.fs.NArg() < argsCost {
		return errors.New("model, prompt tokens and completion tokens are required")
	}
	prompt, err := strconv.Atoi(c.fs.Arg(1))
	if err != nil {
		return fmt.Errorf("prompt tokens: %w", err)
	}
	completion, err := strconv.Atoi(c.fs.Arg(2))
	if err != nil {
		return fmt.Errorf("completion tokens: %w", err)
	}

	cost, priced := app.Costs().Record(ctx, c.fs.Arg(0), prompt, completion)
	if !priced {
		return fmt.Errorf("no pricing configured for %q", c.fs.Arg(0))
	}
	_, _ = fmt.Fprintf(os.Stdout, "prompt $%.6f  completion $%.6f  total $%.6f\n",
		cost.Prompt, cost.Completion, cost.Total())
	return nil
}

func cmdSessions(args []string) error {
	c := newCommand("sessions")
	ctx, app, err := c.start(args)
	if err != nil {
		return err
	}
	defer closeApp(ctx, app)

	sessions, err := app.Conversations().List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, s := range sessions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.UpdatedAt.Local().Format(time.DateTime), s.Exchanges, s.Title)
	}
	return w.Flush()
}

func cmdAPIKey(args []string) error {
	c := newCommand("api-key")
	ctx, app, err := c.start(args)
	if err != nil {
		return err
	}
	defer closeApp(ctx, app)

	if c.fs.NArg() < 1 {
		return errors.New("subcommand required")
	}

	switch c.fs.Arg(0) {
	case "set":
		if c.fs.NArg() < minArgsCommand {
			return errors.New("key is required")
		}
		return app.Credentials().StoreAPIKey(ctx, c.fs.Arg(1))
	case "remove":
		return app.Credentials().RemoveAPIKey(ctx)
	case "show":
		cfg := app.Config(ctx)
		key, keyErr := app.Credentials().APIKey(ctx, &cfg)
		if errors.Is(keyErr, config.ErrCredentialNotFound) {
			return errors.New("no api key configured")
		}
		if keyErr != nil {
			return keyErr
		}
		_, _ = fmt.Fprintln(os.Stdout, maskKey(key))
		return nil
	default:
		return fmt.Errorf("unknown api-key command: %s", c.fs.Arg(0))
	}
}

func maskKey(key string) string {
	if len(key) <= maskedKeyShown {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-maskedKeyShown) + key[len(key)-maskedKeyShown:]
}
