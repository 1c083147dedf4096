// mdxlate: bilingual Markdown translation through the DeepL API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/minios-linux/mdxlate/config"
	"github.com/minios-linux/mdxlate/deepl"
	"github.com/minios-linux/mdxlate/glossary"
	"github.com/minios-linux/mdxlate/i18n"
	"github.com/minios-linux/mdxlate/langmeta"
	"github.com/minios-linux/mdxlate/runner"
	"github.com/minios-linux/mdxlate/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// errAborted is returned by commands that already reported their failure.
var errAborted = errors.New("aborted")

// ---------------------------------------------------------------------------
// Global flag
// ---------------------------------------------------------------------------

var configPath string

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mdxlate",
		Short: i18n.T("Translate Markdown documents into bilingual Markdown with DeepL"),
		Long: i18n.T(`mdxlate translates Markdown files through the DeepL API and writes
bilingual documents: every paragraph, heading and list item is followed by
its translation, while code, links, HTML and front matter are kept as is.

Commands:
  translate   Translate a Markdown file or directory tree
  glossary    Register, list and delete DeepL glossaries
  usage       Show the character usage of the account
  version     Show version information

Configuration is read from --config, ./deepl.toml, ./mdxlate.yaml,
~/.deepl.toml or $XDG_CONFIG_HOME/mdxlate/config.yaml. DEEPL_API_KEY
overrides the configured key.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global persistent flag, inherited by all subcommands
	root.PersistentFlags().StringVar(&configPath, "config", "", i18n.T("Configuration file (TOML or YAML)"))

	root.AddCommand(
		newTranslateCmd(),
		newGlossaryCmd(),
		newUsageCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errAborted) {
			logError("%v", err)
		}
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version (display version information)
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: i18n.T("Show version information"),
		Long:  i18n.T(`Display version, commit hash, and build date.`),
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mdxlate version %s\n", version)
			fmt.Fprintf(out, "  commit:    %s\n", commit)
			fmt.Fprintf(out, "  built:     %s\n", date)
			fmt.Fprintf(out, "  ui:        %s (available: %s)\n", i18n.Language(), strings.Join(i18n.Available(), ", "))
		},
	}

	return cmd
}

// ---------------------------------------------------------------------------
// Shared setup
// ---------------------------------------------------------------------------

type networkArgs struct {
	proxy   string
	timeout time.Duration
	verbose bool
}

func (n *networkArgs) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&n.proxy, "proxy", "", i18n.T("HTTP/HTTPS proxy URL (default: HTTPS_PROXY)"))
	cmd.Flags().DurationVar(&n.timeout, "timeout", 0, i18n.T("Request timeout (0 = 120s)"))
	cmd.Flags().BoolVar(&n.verbose, "verbose", false, i18n.T("Enable detailed logging"))
}

// loadConfig loads the configuration and checks that an API key is set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, config.ErrNotFound) {
		return nil, errors.New(i18n.T("no API key: set DEEPL_API_KEY or create deepl.toml with api_key"))
	}
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf(i18n.T("no API key in %s: set api_key or DEEPL_API_KEY"), cfg.Path())
	}
	return cfg, nil
}

func newClient(cfg *config.Config, n networkArgs) *deepl.Client {
	opts := []deepl.Option{
		deepl.WithBaseURL(cfg.BaseURL()),
		deepl.WithProxy(n.proxy),
		deepl.WithVerbose(n.verbose),
	}
	if n.timeout > 0 {
		opts = append(opts, deepl.WithTimeout(n.timeout))
	}
	return deepl.New(cfg.APIKey, opts...)
}

// interruptContext returns a context canceled on the first Ctrl-C.
func interruptContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		select {
		case <-sigCh:
			logWarning("%s", i18n.T("Interrupted, finishing files in progress..."))
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

type translateArgs struct {
	from, to    string
	formality   string
	maxDepth    int
	glossary    string
	concurrency int
	maxRetries  int
	incremental bool
	detectLang  bool
	network     networkArgs
}

func newTranslateCmd() *cobra.Command {
	var a translateArgs

	cmd := &cobra.Command{
		Use:   "translate INPUT OUTPUT",
		Short: i18n.T("Translate a Markdown file or directory"),
		Long: i18n.T(`Translate a Markdown file, or every Markdown file of a directory tree,
into bilingual Markdown.

A directory INPUT is mirrored below the OUTPUT directory; a file INPUT is
written to the OUTPUT file. Files that fail are listed in the summary and
can be translated again on their own; authentication and quota errors stop
the whole run.

Examples:
  # Translate the README into Japanese
  mdxlate translate --from en --to ja README.md README.ja.md

  # Translate docs/ and its subdirectories, two files at a time
  mdxlate translate --from en --to de --max-depth -1 --concurrency 2 docs docs-de

  # Only re-translate documents changed since the last run
  mdxlate translate --from en --to ja --incremental docs docs-ja`),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyConfigDefaults(cmd, cfg, &a)
			return runTranslate(cfg, a, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&a.from, "from", "", i18n.T("Source language code (required)"))
	cmd.Flags().StringVar(&a.to, "to", "", i18n.T("Target language code (required)"))
	cmd.Flags().StringVar(&a.formality, "formality", "default", i18n.T("Formality: default, formal, informal"))
	cmd.Flags().IntVar(&a.maxDepth, "max-depth", 0, i18n.T("Directory depth to descend (0 = input directory only, -1 = unlimited)"))
	cmd.Flags().StringVar(&a.glossary, "glossary", "", i18n.T("Glossary name (default: project_name from the config)"))
	cmd.Flags().IntVar(&a.concurrency, "concurrency", 1, i18n.T("Number of files translated at once"))
	cmd.Flags().IntVar(&a.maxRetries, "max-retries", 3, i18n.T("Maximum retries on rate limit (429) and network errors"))
	cmd.Flags().BoolVar(&a.incremental, "incremental", false, i18n.T("Skip documents unchanged since the last run"))
	cmd.Flags().BoolVar(&a.detectLang, "detect-lang", false, i18n.T("Warn about documents not written in the source language"))
	a.network.register(cmd)
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	_ = cmd.RegisterFlagCompletionFunc("formality", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"default", "formal", "informal"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// applyConfigDefaults fills the flags the user did not set from cfg.
func applyConfigDefaults(cmd *cobra.Command, cfg *config.Config, a *translateArgs) {
	flags := cmd.Flags()
	if !flags.Changed("formality") && cfg.Formality != "" {
		a.formality = cfg.Formality
	}
	if !flags.Changed("max-depth") {
		a.maxDepth = cfg.EffectiveMaxDepth()
	}
	if !flags.Changed("glossary") {
		a.glossary = cfg.ProjectName
	}
	if !flags.Changed("concurrency") && cfg.Concurrency > 0 {
		a.concurrency = cfg.Concurrency
	}
	if !flags.Changed("max-retries") && cfg.MaxRetries > 0 {
		a.maxRetries = cfg.MaxRetries
	}
}

func validateLanguages(from, to string) error {
	if _, err := langmeta.SourceCode(from); err != nil {
		return err
	}
	if _, err := langmeta.TargetCode(to); err != nil {
		return err
	}
	if langmeta.Base(from) == langmeta.Base(to) {
		return fmt.Errorf(i18n.T("source and target language are both %s"), langmeta.Name(from))
	}
	return nil
}

func runTranslate(cfg *config.Config, a translateArgs, input, output string) error {
	if err := validateLanguages(a.from, a.to); err != nil {
		return err
	}
	if a.concurrency < 1 {
		return errors.New(i18n.T("--concurrency must be at least 1"))
	}

	ctx, stop := interruptContext()
	defer stop()

	client := newClient(cfg, a.network)

	topts := translate.Options{
		MaxRetries: a.maxRetries,
		Verbose:    a.network.verbose,
		OnLog: func(format string, args ...any) {
			logInfo(format, args...)
		},
	}
	if cfg.IsFreeKey() {
		if usage, err := client.Usage(ctx); err != nil {
			logWarning(i18n.T("Could not check usage: %v"), err)
		} else {
			topts.Budget = translate.BudgetFromUsage(usage)
			if left := topts.Budget.Remaining(); left >= 0 {
				logInfo(i18n.T("Free plan: %d characters left"), left)
			}
		}
	}

	resolver := glossary.NewResolver(client, glossary.Options{Verbose: a.network.verbose})

	ropts := runner.Options{
		SourceLang:     a.from,
		TargetLang:     a.to,
		Formality:      a.formality,
		Glossary:       a.glossary,
		Ignore:         cfg.IgnoreTerms(),
		MaxDepth:       a.maxDepth,
		Extensions:     cfg.EffectiveExtensions(),
		Concurrency:    a.concurrency,
		DetectLanguage: a.detectLang,
		Incremental:    a.incremental,
		Verbose:        a.network.verbose,
		OnLog: func(format string, args ...any) {
			logInfo(format, args...)
		},
		OnFile: reportFile,
	}
	if a.network.verbose {
		ropts.OnWarn = func(err error) { logWarning("%v", err) }
	}

	logInfo(i18n.T("Translating %s (%s -> %s)"), input, langmeta.Name(a.from), langmeta.Name(a.to))
	if a.glossary != "" {
		logInfo(i18n.T("Glossary: %s"), a.glossary)
	}

	ctrl := runner.New(runner.Deps{
		Translator: translate.New(client, topts),
		Resolver:   resolver,
	}, ropts)
	res, err := ctrl.Run(ctx, input, output)
	printSummary(res)

	if err != nil {
		return errAborted
	}
	if res.Canceled {
		logWarning("%s", i18n.T("Translation interrupted, finished files were written"))
	}
	return nil
}

func reportFile(fr *runner.FileResult) {
	switch fr.State {
	case runner.StateDone:
		if fr.Untranslated > 0 {
			logWarning(i18n.N("%s: %d segment kept untranslated", "%s: %d segments kept untranslated", fr.Untranslated),
				fr.Output, fr.Untranslated)
		} else {
			logSuccess("%s", fr.Output)
		}
	case runner.StateSkipped:
		logInfo(i18n.T("%s: unchanged, skipped"), fr.Input)
	case runner.StateFailed:
		logError("%s (%s): %v", fr.Input, fr.Kind, fr.Err)
	}
}

// printSummary logs the run summary, each line at its severity.
func printSummary(res *runner.Result) {
	if res == nil {
		return
	}
	lines := res.Summary()
	for i, line := range lines {
		switch {
		case line.Severity == runner.SeverityError:
			logError("%s", line)
		case line.Severity == runner.SeverityWarning:
			logWarning("%s", line)
		case i == len(lines)-1:
			logSuccess("%s", line)
		default:
			logInfo("%s", line)
		}
	}
}

// ---------------------------------------------------------------------------
// glossary (register, list, delete)
// ---------------------------------------------------------------------------

func newGlossaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glossary",
		Short: i18n.T("Manage DeepL glossaries"),
		Long: i18n.T(`Register, list and delete the glossaries stored on the DeepL account.

translate uses the ready glossary whose name is the glossary name (the
--glossary flag or project_name from the config) and whose language pair
matches the run.`),
	}

	cmd.AddCommand(
		newGlossaryRegisterCmd(),
		newGlossaryListCmd(),
		newGlossaryDeleteCmd(),
	)

	return cmd
}

type registerArgs struct {
	name     string
	from, to string
	replace  bool
	network  networkArgs
}

func newGlossaryRegisterCmd() *cobra.Command {
	var a registerArgs

	cmd := &cobra.Command{
		Use:   "register [FILE]",
		Short: i18n.T("Upload a glossary"),
		Long: i18n.T(`Upload the terms of a glossary to DeepL.

FILE is a TOML file with a [glossaries.<name>] table or a .tsv file with
"source<TAB>target" rows. Without FILE the [glossaries.<name>] table of the
configuration file is used.

Examples:
  mdxlate glossary register --name internet_computer --from en --to ja
  mdxlate glossary register --name docs --from en --to de terms.tsv`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if a.name == "" {
				a.name = cfg.ProjectName
			}
			file := ""
			if len(args) == 1 {
				file = args[0]
			}
			return runGlossaryRegister(cfg, a, file)
		},
	}

	cmd.Flags().StringVar(&a.name, "name", "", i18n.T("Glossary name (default: project_name from the config)"))
	cmd.Flags().StringVar(&a.from, "from", "", i18n.T("Source language code (required)"))
	cmd.Flags().StringVar(&a.to, "to", "", i18n.T("Target language code (required)"))
	cmd.Flags().BoolVar(&a.replace, "replace", true, i18n.T("Delete glossaries with the same name and languages first"))
	a.network.register(cmd)
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

// glossaryEntries reads the terms to upload from file, or from the config.
func glossaryEntries(cfg *config.Config, name, file string) ([]glossary.Entry, error) {
	if file != "" {
		return glossary.ReadTerms(file, name)
	}
	terms, ok := cfg.GlossaryTerms(name)
	if !ok {
		return nil, fmt.Errorf(i18n.T("no [glossaries.%s] table in %s"), name, cfg.Path())
	}
	return glossary.FromMap(terms), nil
}

func runGlossaryRegister(cfg *config.Config, a registerArgs, file string) error {
	if a.name == "" {
		return errors.New(i18n.T("no glossary name: use --name or set project_name"))
	}
	src, err := langmeta.SourceCode(a.from)
	if err != nil {
		return err
	}
	if _, err := langmeta.TargetCode(a.to); err != nil {
		return err
	}
	// Glossaries are keyed by base language only.
	tgt := strings.ToUpper(langmeta.Base(a.to))

	entries, err := glossaryEntries(cfg, a.name, file)
	if err != nil {
		return err
	}
	tsv, rows := glossary.BuildTSV(entries, func(e glossary.Entry) {
		logWarning(i18n.T("Duplicate term %q, keeping the first translation"), e.Source)
	})
	if rows == 0 {
		return fmt.Errorf(i18n.T("glossary %q has no usable entries"), a.name)
	}

	ctx, stop := interruptContext()
	defer stop()
	client := newClient(cfg, a.network)

	if a.replace {
		existing, err := client.ListGlossaries(ctx)
		if err != nil {
			return err
		}
		for _, g := range existing {
			if g.Name != a.name || langmeta.Base(g.SourceLang) != langmeta.Base(src) || langmeta.Base(g.TargetLang) != langmeta.Base(tgt) {
				continue
			}
			if err := client.DeleteGlossary(ctx, g.ID); err != nil {
				return err
			}
			logInfo(i18n.T("Deleted previous glossary %s"), g.ID)
		}
	}

	g, err := client.CreateGlossary(ctx, a.name, src, tgt, tsv)
	if err != nil {
		return err
	}
	logSuccess(i18n.N("Registered glossary %s (%s, %s -> %s, %d entry)", "Registered glossary %s (%s, %s -> %s, %d entries)", rows),
		g.ID, a.name, src, tgt, rows)
	return nil
}

func newGlossaryListCmd() *cobra.Command {
	var n networkArgs

	cmd := &cobra.Command{
		Use:   "list",
		Short: i18n.T("List the glossaries of the account"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := interruptContext()
			defer stop()

			list, err := newClient(cfg, n).ListGlossaries(ctx)
			if err != nil {
				return err
			}
			printGlossaries(cmd, list)
			return nil
		},
	}
	n.register(cmd)

	return cmd
}

func printGlossaries(cmd *cobra.Command, list []deepl.Glossary) {
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, i18n.T("No glossaries"))
		return
	}

	idWidth, nameWidth := len("ID"), len("NAME")
	for _, g := range list {
		idWidth = max(idWidth, len(g.ID))
		nameWidth = max(nameWidth, len(g.Name))
	}
	fmt.Fprintf(out, "%-*s  %-*s  %-7s  %7s  %s\n", idWidth, "ID", nameWidth, "NAME", "LANGS", "ENTRIES", "READY")
	for _, g := range list {
		ready := i18n.T("yes")
		if !g.Ready {
			ready = i18n.T("no")
		}
		langs := strings.ToLower(g.SourceLang) + "-" + strings.ToLower(g.TargetLang)
		fmt.Fprintf(out, "%-*s  %-*s  %-7s  %7d  %s\n", idWidth, g.ID, nameWidth, g.Name, langs, g.EntryCount, ready)
	}
}

func newGlossaryDeleteCmd() *cobra.Command {
	var n networkArgs

	cmd := &cobra.Command{
		Use:   "delete ID...",
		Short: i18n.T("Delete glossaries by ID"),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := interruptContext()
			defer stop()

			client := newClient(cfg, n)
			for _, id := range args {
				if err := client.DeleteGlossary(ctx, id); err != nil {
					return fmt.Errorf(i18n.T("deleting %s: %w"), id, err)
				}
				logSuccess(i18n.T("Deleted glossary %s"), id)
			}
			return nil
		},
	}
	n.register(cmd)

	return cmd
}

// ---------------------------------------------------------------------------
// usage
// ---------------------------------------------------------------------------

func newUsageCmd() *cobra.Command {
	var n networkArgs

	cmd := &cobra.Command{
		Use:   "usage",
		Short: i18n.T("Show the character usage of the account"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := interruptContext()
			defer stop()

			u, err := newClient(cfg, n).Usage(ctx)
			if err != nil {
				return err
			}
			printUsage(cmd, cfg, u)
			return nil
		},
	}
	n.register(cmd)

	return cmd
}

func printUsage(cmd *cobra.Command, cfg *config.Config, u deepl.Usage) {
	out := cmd.OutOrStdout()
	plan := i18n.T("pro")
	if cfg.IsFreeKey() {
		plan = i18n.T("free")
	}
	fmt.Fprintf(out, i18n.T("Plan:       %s (%s)")+"\n", plan, cfg.BaseURL())
	if u.CharacterLimit <= 0 {
		fmt.Fprintf(out, i18n.T("Characters: %d (no limit)")+"\n", u.CharacterCount)
		return
	}
	percent := float64(u.CharacterCount) * 100 / float64(u.CharacterLimit)
	fmt.Fprintf(out, i18n.T("Characters: %d / %d (%.1f%%)")+"\n", u.CharacterCount, u.CharacterLimit, percent)
	fmt.Fprintf(out, i18n.T("Remaining:  %d")+"\n", u.Remaining())
}
