// Zaparoo Curator
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Curator.
//
// Zaparoo Curator is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Curator is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Curator.  If not, see <http://www.gnu.org/licenses/>.

// Package cli implements the curator command line. Every subcommand loads
// the config, opens the catalog and runs one facade operation.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ZaparooProject/zaparoo-curator/pkg/config"
	"github.com/ZaparooProject/zaparoo-curator/pkg/database/catalogdb"
	"github.com/ZaparooProject/zaparoo-curator/pkg/helpers"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var (
	ErrUsage      = errors.New("invalid usage")
	ErrNoRoot     = errors.New("no library root configured")
	ErrIncomplete = errors.New("operation finished with failures")
)

// Env is everything a command touches outside the catalog.
type Env struct {
	Fs     afero.Fs
	Clock  clockwork.Clock
	Stdout io.Writer
	Stderr io.Writer
	// ConfigDir is used when -config is not given.
	ConfigDir string
}

// DefaultEnv runs against the real filesystem and clock.
func DefaultEnv(stdout, stderr io.Writer) Env {
	return Env{
		Fs:        afero.NewOsFs(),
		Clock:     clockwork.NewRealClock(),
		Stdout:    stdout,
		Stderr:    stderr,
		ConfigDir: helpers.ConfigDir(),
	}
}

type command struct {
	run     func(ctx context.Context, s *session, args []string) error
	usage   string
	summary string
}

var commands = map[string]command{
	"import": {
		run:     runImport,
		usage:   "import [-prune] [-detector file] <dat>",
		summary: "merge a catalog document into the store",
	},
	"reconcile": {
		run:     runReconcile,
		usage:   "reconcile [-record] [-v] [-csv file] <system>",
		summary: "match library files against a system",
	},
	"select": {
		run:     runSelect,
		usage:   "select <system>",
		summary: "pick one preferred release per parent",
	},
	"convert": {
		run:     runConvert,
		usage:   "convert [-to zip|cso|chd|flat] [-keep] [-selected] <system>",
		summary: "repack exact files into another container",
	},
	"check": {
		run:     runCheck,
		usage:   "check <system>",
		summary: "verify stored bindings against the library",
	},
	"rename": {
		run:     runRename,
		usage:   "rename <system>",
		summary: "rename exact flat files to their catalog rom names",
	},
	"trash": {
		run:     runTrash,
		usage:   "trash <system>",
		summary: "move unmatched files into the trash directory",
	},
}

// session is the state shared by one invocation.
type session struct {
	env Env
	cfg *config.Instance
	db  *catalogdb.CatalogDB
}

func (s *session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.env.Stdout, format, args...)
}

// root is the library root, or ErrNoRoot.
func (s *session) root() (string, error) {
	root := s.cfg.LibraryRoot()
	if root == "" {
		return "", ErrNoRoot
	}
	return root, nil
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: curator [-config dir] [-root dir] [-debug] <command> [args]")
	_, _ = fmt.Fprintln(w, "\nCommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "  %-60s %s\n", commands[name].usage, commands[name].summary)
	}
}

// Run parses args, without the program name, and runs the chosen command.
func Run(ctx context.Context, env Env, args []string) error {
	fs := flag.NewFlagSet("curator", flag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	fs.Usage = func() { usage(env.Stderr) }
	configDir := fs.String("config", env.ConfigDir, "directory holding "+config.CfgFile)
	root := fs.String("root", "", "library root, overriding the config")
	debug := fs.Bool("debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if fs.NArg() == 0 {
		usage(env.Stderr)
		return fmt.Errorf("%w: no command given", ErrUsage)
	}

	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		usage(env.Stderr)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, name)
	}

	cfg, err := config.NewConfig(*configDir, config.BaseDefaults)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *root != "" {
		cfg.SetLibraryRoot(*root)
	}
	if *debug || cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	db, err := catalogdb.OpenCatalogDB(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("error closing catalog")
		}
	}()

	log.Debug().Str("command", name).Strs("args", fs.Args()[1:]).Msg("running command")
	s := &session{env: env, cfg: cfg, db: db}
	return cmd.run(ctx, s, fs.Args()[1:])
}

// parseCommand parses a subcommand's flags and requires exactly one
// positional argument, returned joined so system names may contain spaces
// without quoting.
func parseCommand(s *session, fs *flag.FlagSet, args []string) (string, error) {
	fs.SetOutput(s.env.Stderr)
	if err := fs.Parse(args); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUsage, err)
	}
	arg := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if arg == "" {
		return "", fmt.Errorf("%w: %s needs an argument", ErrUsage, fs.Name())
	}
	return arg, nil
}
