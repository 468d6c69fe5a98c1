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

// Package convert re-encodes library files into another container kind. A
// source file is only removed once the new container has been read back
// and every entry reproduces the digests captured before conversion.
package convert

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/ZaparooProject/zaparoo-curator/pkg/containers"
	"github.com/ZaparooProject/zaparoo-curator/pkg/fingerprint"
	"github.com/ZaparooProject/zaparoo-curator/pkg/helpers/syncutil"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const DefaultIOWorkers = 16

var (
	ErrVerifyFailed = errors.New("verification failed")
	ErrTargetExists = errors.New("target already exists")
	ErrSameKind     = errors.New("source is already the target kind")
	ErrInvalidJob   = errors.New("invalid conversion job")
)

type State int

const (
	StatePending State = iota
	StateInProgress
	StateVerified
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Job converts one file. Expected, keyed by entry name, holds digests that
// are already known for the source so they are not computed twice.
type Job struct {
	Expected map[string]fingerprint.Digests
	Source   string          `validate:"required"`
	Target   containers.Kind `validate:"writable"`
}

type Options struct {
	// RunID tags temp files and bookkeeping rows. A new one is generated
	// when empty.
	RunID      string `validate:"omitempty,uuid"`
	Writer     containers.WriterOptions
	Hashes     fingerprint.Set
	CPUWorkers int `validate:"min=0"`
	IOWorkers  int `validate:"min=0"`
	KeepSource bool
	// AllowFlat opens sources with no container signature as raw files.
	AllowFlat bool
}

// Outcome is the terminal state of a job. Jobs never started stay Pending.
type Outcome struct {
	StartedAt time.Time
	Err       error
	// Digests are the verified digests of each target entry.
	Digests map[string]fingerprint.Digests
	// Renames maps source entry names to target entry names where they
	// differ.
	Renames       map[string]string
	Source        string
	TargetPath    string
	Job           Job
	Duration      time.Duration
	State         State
	SourceRemoved bool
}

type Pipeline struct {
	fs       afero.Fs
	clock    clockwork.Clock
	validate *validator.Validate
	// reserved holds the target paths of jobs in flight.
	reserved map[string]struct{}
	opts     Options
	mu       syncutil.Mutex
}

// New returns a pipeline working on fs. The clock times each job.
func New(fs afero.Fs, clock clockwork.Clock, opts Options) (*Pipeline, error) {
	v := validator.New()
	if err := v.RegisterValidation("writable", func(fl validator.FieldLevel) bool {
		k, ok := fl.Field().Interface().(containers.Kind)
		return ok && k.Writable()
	}); err != nil {
		return nil, fmt.Errorf("failed to register validation: %w", err)
	}
	if err := v.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid conversion options: %w", err)
	}

	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.CPUWorkers == 0 {
		opts.CPUWorkers = runtime.NumCPU()
	}
	if opts.IOWorkers == 0 {
		opts.IOWorkers = DefaultIOWorkers
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		fs:       fs,
		clock:    clock,
		validate: v,
		reserved: make(map[string]struct{}),
		opts:     opts,
	}, nil
}

// reserve claims target for one job. It fails when another job in flight
// already writes there.
func (p *Pipeline) reserve(target string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.reserved[target]; taken {
		return false
	}
	p.reserved[target] = struct{}{}
	return true
}

func (p *Pipeline) release(target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reserved, target)
}

func (p *Pipeline) RunID() string {
	return p.opts.RunID
}

// Run converts jobs concurrently and returns one outcome per job, in job
// order. Cancelling ctx stops new jobs from starting; jobs already running
// finish or fail cleanly first, and the rest are left Pending. The error is
// only set when the batch was interrupted.
func (p *Pipeline) Run(ctx context.Context, jobs []Job) ([]Outcome, error) {
	outcomes := make([]Outcome, len(jobs))
	for i, job := range jobs {
		outcomes[i] = Outcome{Job: job, Source: job.Source, State: StatePending}
	}

	// In flight jobs must not observe cancellation.
	detached := context.WithoutCancel(ctx)
	ioSem := semaphore.NewWeighted(int64(p.opts.IOWorkers))

	var g errgroup.Group
	g.SetLimit(p.opts.CPUWorkers)
	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := ioSem.Acquire(detached, 1); err != nil {
				return fmt.Errorf("failed to acquire io slot: %w", err)
			}
			defer ioSem.Release(1)
			outcomes[i] = p.runJob(job)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}

	verified, failed, pending := 0, 0, 0
	for _, o := range outcomes {
		switch o.State {
		case StateVerified:
			verified++
		case StateFailed:
			failed++
		case StatePending, StateInProgress:
			pending++
		}
	}
	log.Info().
		Str("run", p.opts.RunID).
		Int("verified", verified).
		Int("failed", failed).
		Int("pending", pending).
		Msg("conversion batch finished")

	if err := ctx.Err(); err != nil {
		return outcomes, fmt.Errorf("conversion interrupted: %w", err)
	}
	return outcomes, nil
}
