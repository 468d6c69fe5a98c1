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

package convert

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
	"github.com/rs/zerolog/log"
)

// Record stores the outcomes of a run and moves file bindings of verified
// jobs to their new container, in one transaction. Pending outcomes are not
// recorded so the batch can be resumed.
func Record(ctx context.Context, db database.CatalogDBI, runID string, outcomes []Outcome) error {
	if err := db.BeginTransaction(ctx); err != nil {
		return fmt.Errorf("failed to begin conversion bookkeeping: %w", err)
	}

	if err := record(ctx, db, runID, outcomes); err != nil {
		if rbErr := db.RollbackTransaction(); rbErr != nil {
			log.Error().Err(rbErr).Msg("failed to roll back conversion bookkeeping")
		}
		return fmt.Errorf("conversion bookkeeping rolled back: %w", err)
	}
	if err := db.CommitTransaction(); err != nil {
		return fmt.Errorf("conversion bookkeeping rolled back: %w", err)
	}
	return nil
}

func record(ctx context.Context, db database.CatalogDBI, runID string, outcomes []Outcome) error {
	for _, o := range outcomes {
		if o.State != StateVerified && o.State != StateFailed {
			continue
		}
		c := database.Conversion{
			RunID:      runID,
			SourcePath: o.Source,
			TargetPath: o.TargetPath,
			TargetKind: o.Job.Target.String(),
			State:      o.State.String(),
			FinishedAt: o.StartedAt.Add(o.Duration).Unix(),
		}
		if o.Err != nil {
			c.Detail = o.Err.Error()
		}
		if err := db.InsertConversion(ctx, c); err != nil {
			return fmt.Errorf("failed to record conversion: %w", err)
		}

		if o.State != StateVerified {
			continue
		}
		if err := db.MoveRomFiles(ctx, o.Source, o.TargetPath, o.Job.Target.String(), o.Renames); err != nil {
			return fmt.Errorf("failed to move rom files: %w", err)
		}
	}
	return nil
}
