package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/knoldeck/internal/config"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sched"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/sync"
	"github.com/conorfennell/knoldeck/internal/web"
)

const usage = `Usage: knoldeck <command> [flags]

Commands:
  serve                 Serve the JSON API
  sync                  Sync every note source
  add-source <path|url> Add a local directory or git repository
  decks [--find text]   Show the deck tree with today's counts
  counts                Show the cards left today
  rebuild <deck>        Rebuild a filtered deck
  empty <deck>          Empty a filtered deck
  unbury [deck]         Unbury cards, in one deck or everywhere

Run "knoldeck <command> --help" for the flags of a command.
`

var commands = map[string]bool{
	"serve": true, "sync": true, "add-source": true, "decks": true,
	"counts": true, "rebuild": true, "empty": true, "unbury": true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "knoldeck: %v\n", err)
		os.Exit(1)
	}
}

// app is what every command needs once the configuration is loaded.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	db      *storage.DB
	session *sched.Session
	syncer  *sync.Syncer
	out     io.Writer
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(out, usage)
		return nil
	}
	command := args[0]
	if !commands[command] {
		return fmt.Errorf("unknown command %q\n\n%s", command, usage)
	}

	flags := pflag.NewFlagSet(command, pflag.ContinueOnError)
	config.RegisterFlags(flags)
	find := flags.String("find", "", "Fuzzy-match deck names instead of printing the tree (decks)")
	kind := flags.String("kind", "all", "Buried cards to restore: all, manual or siblings (unbury)")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	logger := cfg.Log.Logger()
	slog.SetDefault(logger)

	a, err := open(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer a.db.Close()

	rest := flags.Args()
	switch command {
	case "serve":
		return a.serve(ctx)
	case "sync":
		return a.sync(ctx)
	case "add-source":
		if len(rest) != 1 {
			return errors.New("add-source needs exactly one path or URL")
		}
		return a.addSource(ctx, rest[0])
	case "decks":
		return a.decks(ctx, *find)
	case "counts":
		return a.counts(ctx)
	case "rebuild", "empty":
		if len(rest) != 1 {
			return fmt.Errorf("%s needs a deck id or name", command)
		}
		return a.filtered(ctx, command, rest[0])
	case "unbury":
		return a.unbury(ctx, rest, *kind)
	}
	return nil
}

func open(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (*app, error) {
	dbConfig := storage.DefaultConfig(cfg.DB.Path)
	dbConfig.BusyTimeout = cfg.DB.BusyTimeout
	dbConfig.JournalMode = cfg.DB.JournalMode
	dbConfig.Logger = logger
	db, err := storage.Open(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Debug("Database opened successfully", "path", cfg.DB.Path)

	session, err := sched.Open(ctx, db, sched.Options{
		QueuePageSize:   cfg.Scheduler.QueuePageSize,
		ReportLimit:     cfg.Scheduler.ReportLimit,
		ConfigCacheSize: cfg.Scheduler.ConfigCacheSize,
		Logger:          logger,
		LeechHook: func(card *domain.Card, note *domain.Note) {
			logger.Warn("Leech", "card_id", card.ID, "question", note.Question)
		},
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	syncer := sync.New(db, session, sync.Options{
		ReposDir:     cfg.Sources.ReposDir,
		ParseWorkers: cfg.Sources.ParseWorkers,
		Logger:       logger,
	})
	return &app{cfg: cfg, log: logger, db: db, session: session, syncer: syncer, out: out}, nil
}

func (a *app) serve(ctx context.Context) error {
	if a.cfg.Sources.Watch {
		go func() {
			if err := a.syncer.Watch(ctx, a.cfg.Sources.Debounce); err != nil {
				a.log.Error("Source watcher stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      web.NewServer(a.db, a.session, a.syncer, a.log),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info("Starting server", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) sync(ctx context.Context) error {
	reports, err := a.syncer.RunAll(ctx)
	if err != nil {
		return err
	}
	for _, r := range reports {
		fmt.Fprintf(a.out, "%s: %d notes, %d added, %d updated, %d removed\n",
			r.Path, r.Parsed, r.Added, r.Updated, r.Removed)
		for _, e := range r.Errors {
			fmt.Fprintf(a.out, "  - %s\n", e)
		}
	}
	return nil
}

func (a *app) addSource(ctx context.Context, path string) error {
	source, err := a.syncer.AddSource(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Source %d: %s (%s)\n", source.ID, source.Path, source.Type)
	return nil
}

func (a *app) decks(ctx context.Context, find string) error {
	if find != "" {
		for _, d := range a.session.FindDecks(find) {
			fmt.Fprintf(a.out, "%d\t%s\n", d.ID, d.Name)
		}
		return nil
	}
	tree, err := a.session.DeckTree(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%-40s %5s %5s %5s\n", "DECK", "NEW", "LEARN", "DUE")
	var walk func(nodes []*sched.DeckNode, depth int)
	walk = func(nodes []*sched.DeckNode, depth int) {
		for _, n := range nodes {
			parts := domain.NameParts(n.Name)
			label := strings.Repeat("  ", depth) + parts[len(parts)-1]
			if n.Filtered {
				label += " *"
			}
			fmt.Fprintf(a.out, "%-40s %5d %5d %5d\n", label, n.New, n.Learn, n.Review)
			walk(n.Children, depth+1)
		}
	}
	walk(tree, 0)
	return nil
}

func (a *app) counts(ctx context.Context) error {
	c, err := a.session.Counts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Day %d: %d new, %d learning, %d review\n", a.session.Today(), c.New, c.Learn, c.Review)
	return nil
}

// resolveDeck accepts a deck id or a full deck name.
func (a *app) resolveDeck(ref string) (*domain.Deck, error) {
	id, idErr := strconv.ParseInt(ref, 10, 64)
	name := domain.NormalizeDeckName(ref)
	for _, d := range a.session.Decks() {
		if (idErr == nil && d.ID == id) || strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", sched.ErrUnknownDeck, ref)
}

func (a *app) filtered(ctx context.Context, command, ref string) error {
	d, err := a.resolveDeck(ref)
	if err != nil {
		return err
	}
	if command == "empty" {
		n, err := a.session.EmptyFiltered(ctx, d.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Returned %d cards from %s\n", n, d.Name)
		return nil
	}
	n, err := a.session.RebuildFiltered(ctx, d.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Gathered %d cards into %s\n", n, d.Name)
	return nil
}

func (a *app) unbury(ctx context.Context, args []string, kindName string) error {
	kind, err := sched.ParseUnburyKind(kindName)
	if err != nil {
		return err
	}
	var n int
	switch len(args) {
	case 0:
		if kind != sched.UnburyAll {
			return errors.New("--kind needs a deck")
		}
		n, err = a.session.UnburyAll(ctx)
	case 1:
		d, derr := a.resolveDeck(args[0])
		if derr != nil {
			return derr
		}
		n, err = a.session.UnburyDeck(ctx, d.ID, kind)
	default:
		return errors.New("unbury takes at most one deck")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Unburied %d cards\n", n)
	return nil
}
