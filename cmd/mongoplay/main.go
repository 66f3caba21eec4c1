// Command mongoplay serves an in-memory document store over HTTP, optionally
// persisting it to a data directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.mongodb.org/mongo-driver/bson"

	mongoplay "github.com/xlgmokha/mongo-play"
	"github.com/xlgmokha/mongo-play/httpapi"
	"github.com/xlgmokha/mongo-play/persist"
)

var version = "dev"

const (
	flagConfig  = "config"
	flagListen  = "listen"
	flagData    = "data"
	flagVerbose = "verbose"
	flagJSON    = "json"
	flagStats   = "stats"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mongoplay: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mongoplay",
		Usage: "embedded document store",
		Commands: []*cli.Command{
			serveCommand(),
			dumpCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the version",
		Action: func(c *cli.Context) error {
			fmt.Fprintln(c.App.Writer, version)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, Usage: "TOML config `FILE`"},
			&cli.StringFlag{Name: flagListen, Aliases: []string{"l"}, Usage: "listen `ADDR`, overrides server.listen"},
			&cli.StringFlag{Name: flagData, Aliases: []string{"d"}, Usage: "data `DIR`, overrides server.data; in-memory only when empty"},
			&cli.BoolFlag{Name: flagVerbose, Aliases: []string{"v"}, Usage: "log every operation"},
		},
		Action: serve,
	}
}

func dumpCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "print the documents stored in a data directory",
		ArgsUsage: "[db[.collection]]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagData, Aliases: []string{"d"}, Usage: "data `DIR`", Required: true},
			&cli.BoolFlag{Name: flagJSON, Usage: "print one canonical extended JSON document per line"},
			&cli.BoolFlag{Name: flagStats, Usage: "print snapshot file usage per collection instead"},
		},
		Action: dump,
	}
}

func serve(c *cli.Context) error {
	config, err := LoadConfig(c.String(flagConfig))
	if err != nil {
		return err
	}
	if c.IsSet(flagListen) {
		config.Server.Listen = c.String(flagListen)
	}
	if c.IsSet(flagData) {
		config.Server.Data = c.String(flagData)
	}
	if c.Bool(flagVerbose) {
		config.Log.Verbose = true
	}

	logger := config.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat := mongoplay.New(mongoplay.Options{
		Logger:  logger,
		Verbose: config.Log.Verbose,
	})

	var store *persist.Store
	if config.Server.Data != "" {
		store, err = persist.Open(config.Server.Data, cat, persist.Options{
			Logger:             logger,
			Verbose:            config.Log.Verbose,
			SyncEveryChange:    config.Server.SyncEveryChange,
			MaxJournalFileSize: config.Server.MaxJournalSize,
		})
		if err != nil {
			return err
		}
	}

	srv := &http.Server{
		Handler: httpapi.New(cat, httpapi.Options{
			Logger:      logger,
			Verbose:     config.Log.Verbose,
			MaxBodySize: config.Server.MaxBodySize,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	l, err := net.Listen("tcp", config.Server.Listen)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return err
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "listening", slog.String("addr", l.Addr().String()), slog.String("data", config.Server.Data))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(l)
	}()

	var tick <-chan time.Time
	if store != nil && config.Server.CheckpointInterval > 0 {
		ticker := time.NewTicker(config.Server.CheckpointInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			logger.LogAttrs(context.Background(), slog.LevelInfo, "shutting down")
			break loop
		case err := <-serveErr:
			runErr = err
			break loop
		case <-tick:
			if err := store.Checkpoint(); err != nil {
				logger.LogAttrs(ctx, slog.LevelError, "checkpoint failed", slog.Any("err", err))
			}
			if err := store.Err(); err != nil {
				logger.LogAttrs(ctx, slog.LevelError, "journal is failing, changes since the last checkpoint may be lost", slog.Any("err", err))
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if store != nil {
		if err := store.Close(); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	if errors.Is(runErr, http.ErrServerClosed) {
		runErr = nil
	}
	return runErr
}

func dump(c *cli.Context) error {
	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cat := mongoplay.New(mongoplay.Options{Logger: logger})
	store, err := persist.Open(c.String(flagData), cat, persist.Options{Logger: logger, ReadOnly: true})
	if err != nil {
		return err
	}
	defer store.Close()

	filter := c.Args().First()
	w := c.App.Writer
	if c.Bool(flagStats) {
		stats, err := store.SnapshotStats()
		if err != nil {
			return err
		}
		for _, cs := range stats {
			if matchesNamespace(filter, cs.DB, cs.Collection) {
				fmt.Fprintf(w, "%s: docs = %d, indexes = %d, data_size = %d, data_alloc = %d\n", cs.Namespace(), cs.Docs, cs.Indexes, cs.DataSize, cs.DataAlloc)
			}
		}
		return nil
	}
	if !c.Bool(flagJSON) {
		for _, db := range cat.Databases() {
			colls, err := db.Collections()
			if err != nil {
				return err
			}
			for _, coll := range colls {
				if matchesNamespace(filter, db.Name(), coll.Name()) {
					fmt.Fprint(w, coll.Dump(mongoplay.DumpAll))
				}
			}
		}
		return nil
	}

	for _, db := range cat.Databases() {
		colls, err := db.Collections()
		if err != nil {
			return err
		}
		for _, coll := range colls {
			if !matchesNamespace(filter, db.Name(), coll.Name()) {
				continue
			}
			docs, _, err := coll.Snapshot()
			if err != nil {
				return err
			}
			for _, d := range docs {
				line := bson.D{{Key: "ns", Value: coll.FullName()}, {Key: "doc", Value: d.BSON()}}
				data, err := bson.MarshalExtJSON(line, true, false)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\n", data)
			}
		}
	}
	return nil
}

// matchesNamespace reports whether db.coll is selected by filter, which is
// empty, a database name or a full namespace.
func matchesNamespace(filter, db, coll string) bool {
	return filter == "" || filter == db || filter == db+"."+coll
}
