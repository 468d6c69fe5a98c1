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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaparooProject/zaparoo-curator/pkg/cli"
	"github.com/ZaparooProject/zaparoo-curator/pkg/helpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	err := helpers.InitLogging(helpers.LogDir(), nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	err = cli.Run(ctx, cli.DefaultEnv(os.Stdout, os.Stderr), os.Args[1:])
	if err != nil {
		log.Error().Err(err).Msg("command failed")
		return err
	}
	return nil
}
