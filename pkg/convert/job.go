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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZaparooProject/zaparoo-curator/pkg/containers"
	"github.com/ZaparooProject/zaparoo-curator/pkg/fingerprint"
	"github.com/rs/zerolog/log"
)

// plannedEntry maps a source entry to its name in the target.
type plannedEntry struct {
	src  containers.Entry
	dest string
}

// TargetPath is where a file converted to kind is written. Flat targets are
// named after their single entry, others after the source file.
func TargetPath(source string, kind containers.Kind, entries []containers.Entry) string {
	dir := filepath.Dir(source)
	if kind == containers.KindFlat && len(entries) > 0 {
		return filepath.Join(dir, filepath.Base(entries[0].Name))
	}
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+kind.Ext())
}

func (p *Pipeline) tempPath(target string) string {
	return target + ".tmp-" + p.opts.RunID
}

func (p *Pipeline) runJob(job Job) Outcome {
	out := Outcome{
		Job:       job,
		Source:    job.Source,
		State:     StateInProgress,
		StartedAt: p.clock.Now(),
	}
	logger := log.With().Str("source", job.Source).Str("target", job.Target.String()).Logger()

	fail := func(err error) Outcome {
		out.State = StateFailed
		out.Err = err
		out.Duration = p.clock.Since(out.StartedAt)
		logger.Warn().Err(err).Msg("conversion failed, source kept")
		return out
	}

	if err := p.validate.Struct(job); err != nil {
		return fail(fmt.Errorf("%w: %w", ErrInvalidJob, err))
	}

	digests, plan, err := p.convert(job, &out)
	if err != nil {
		return fail(err)
	}
	out.Digests = digests
	for _, e := range plan {
		if e.src.Name != e.dest {
			if out.Renames == nil {
				out.Renames = make(map[string]string)
			}
			out.Renames[e.src.Name] = e.dest
		}
	}

	out.State = StateVerified
	if !p.opts.KeepSource && out.TargetPath != job.Source {
		if err := p.fs.Remove(job.Source); err != nil {
			logger.Warn().Err(err).Msg("converted but failed to remove source")
		} else {
			out.SourceRemoved = true
		}
	}
	out.Duration = p.clock.Since(out.StartedAt)
	logger.Info().Str("path", out.TargetPath).Dur("took", out.Duration).Msg("conversion verified")
	return out
}

// convert writes the target next to the source under a temp name, verifies
// it and moves it into place. Every failure leaves no output behind.
func (p *Pipeline) convert(job Job, out *Outcome) (map[string]fingerprint.Digests, []plannedEntry, error) {
	src, err := containers.Open(p.fs, job.Source, p.opts.AllowFlat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warn().Err(err).Str("path", job.Source).Msg("failed to close source")
		}
	}()

	if src.Kind() == job.Target {
		return nil, nil, fmt.Errorf("%w: %s", ErrSameKind, job.Target)
	}
	entries := src.Entries()
	if len(entries) == 0 {
		return nil, nil, fmt.Errorf("%w: source has no entries", ErrInvalidJob)
	}
	if !job.Target.MultiEntry() && len(entries) != 1 {
		return nil, nil, fmt.Errorf("%w: %d entries", containers.ErrSingleEntry, len(entries))
	}

	target := TargetPath(job.Source, job.Target, entries)
	out.TargetPath = target
	if !p.reserve(target) {
		return nil, nil, fmt.Errorf("%w: %s is claimed by another job", ErrTargetExists, target)
	}
	defer p.release(target)
	if err := p.checkTarget(job.Source, target); err != nil {
		return nil, nil, err
	}
	plan := planEntries(entries, target, job.Target)

	tmp := p.tempPath(target)
	captured, err := p.write(src, tmp, job, plan)
	if err != nil {
		return nil, nil, err
	}

	verified, err := p.verify(tmp, job.Target, plan, captured)
	if err != nil {
		p.removeTemp(tmp)
		return nil, nil, err
	}

	// The target may have appeared outside the pipeline while writing.
	if err := p.checkTarget(job.Source, target); err != nil {
		p.removeTemp(tmp)
		return nil, nil, err
	}
	if err := p.fs.Rename(tmp, target); err != nil {
		p.removeTemp(tmp)
		return nil, nil, fmt.Errorf("failed to move verified output into place: %w", err)
	}
	return verified, plan, nil
}

// checkTarget fails when target exists and is not the source itself.
func (p *Pipeline) checkTarget(source, target string) error {
	if target == source {
		return nil
	}
	exists, err := fileExists(p, target)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrTargetExists, target)
	}
	return nil
}

func fileExists(p *Pipeline, path string) (bool, error) {
	_, err := p.fs.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat target: %w", err)
	}
}

func planEntries(entries []containers.Entry, target string, kind containers.Kind) []plannedEntry {
	plan := make([]plannedEntry, len(entries))
	for i, e := range entries {
		dest := e.Name
		if !kind.MultiEntry() {
			dest = containers.EntryName(target, kind)
		}
		plan[i] = plannedEntry{src: e, dest: dest}
	}
	return plan
}

// write encodes every entry into tmp while fingerprinting the stream it
// reads, and returns the digests the target must reproduce.
func (p *Pipeline) write(
	src containers.Reader,
	tmp string,
	job Job,
	plan []plannedEntry,
) (map[string]fingerprint.Digests, error) {
	w, err := containers.Create(p.fs, tmp, job.Target, p.opts.Writer)
	if err != nil {
		return nil, fmt.Errorf("failed to create target: %w", err)
	}

	captured := make(map[string]fingerprint.Digests, len(plan))
	for _, e := range plan {
		d, err := p.writeEntry(src, w, e, job.Expected)
		if err != nil {
			if abortErr := w.Abort(); abortErr != nil {
				log.Error().Err(abortErr).Str("path", tmp).Msg("failed to discard partial output")
			}
			return nil, err
		}
		captured[e.dest] = d
	}
	if err := w.Finalize(); err != nil {
		p.removeTemp(tmp)
		return nil, fmt.Errorf("failed to finalize target: %w", err)
	}
	return captured, nil
}

func (p *Pipeline) writeEntry(
	src containers.Reader,
	w containers.Writer,
	e plannedEntry,
	expected map[string]fingerprint.Digests,
) (fingerprint.Digests, error) {
	rc, err := src.Open(e.src.Name)
	if err != nil {
		return fingerprint.Digests{}, fmt.Errorf("failed to open source entry %s: %w", e.src.Name, err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			log.Warn().Err(err).Str("entry", e.src.Name).Msg("failed to close source entry")
		}
	}()

	kinds := p.opts.Hashes | fingerprint.SetCRC32
	want, known := expected[e.src.Name]
	if known {
		kinds |= kindsOf(want)
	}

	got, err := writeAndHash(w, e.dest, e.src.Size, rc, kinds)
	if err != nil {
		return fingerprint.Digests{}, fmt.Errorf("failed to write entry %s: %w", e.src.Name, err)
	}
	if known {
		if !sameDigests(want, got) {
			return fingerprint.Digests{}, fmt.Errorf("%w: source entry %s no longer matches its recorded digests",
				ErrVerifyFailed, e.src.Name)
		}
		return want, nil
	}
	return got, nil
}

// writeAndHash streams r into the writer and through the fingerprint engine
// in one read.
func writeAndHash(
	w containers.Writer,
	name string,
	size int64,
	r io.Reader,
	kinds fingerprint.Set,
) (fingerprint.Digests, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := w.WriteEntry(name, size, pr)
		pr.CloseWithError(err)
		done <- err
	}()

	d, hashErr := fingerprint.Compute(io.TeeReader(r, pw), kinds, 0)
	pw.CloseWithError(hashErr)
	writeErr := <-done

	if writeErr != nil {
		return fingerprint.Digests{}, writeErr //nolint:wrapcheck // wrapped by caller
	}
	if hashErr != nil {
		return fingerprint.Digests{}, hashErr //nolint:wrapcheck // wrapped by caller
	}
	return d, nil
}

// verify reopens the finished target and recomputes every entry.
func (p *Pipeline) verify(
	path string,
	kind containers.Kind,
	plan []plannedEntry,
	captured map[string]fingerprint.Digests,
) (map[string]fingerprint.Digests, error) {
	r, err := containers.OpenKind(p.fs, path, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot reopen target: %w", ErrVerifyFailed, err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to close target")
		}
	}()

	entries := r.Entries()
	if len(entries) != len(plan) {
		return nil, fmt.Errorf("%w: target has %d entries, expected %d", ErrVerifyFailed, len(entries), len(plan))
	}
	byName := make(map[string]containers.Entry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}

	verified := make(map[string]fingerprint.Digests, len(plan))
	for _, e := range plan {
		entry, ok := byName[e.dest]
		if !kind.MultiEntry() {
			// Single entry kinds name their entry after the file, which is
			// still the temp name here.
			entry, ok = entries[0], true
		}
		if !ok {
			return nil, fmt.Errorf("%w: entry %s missing from target", ErrVerifyFailed, e.dest)
		}

		want := captured[e.dest]
		got, err := hashEntry(r, entry.Name, kindsOf(want))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrVerifyFailed, err)
		}
		if !sameDigests(want, got) {
			return nil, fmt.Errorf("%w: entry %s digests changed", ErrVerifyFailed, e.dest)
		}
		verified[e.dest] = got
	}
	return verified, nil
}

func hashEntry(r containers.Reader, name string, kinds fingerprint.Set) (fingerprint.Digests, error) {
	rc, err := r.Open(name)
	if err != nil {
		return fingerprint.Digests{}, fmt.Errorf("failed to open entry %s: %w", name, err)
	}
	defer func() { _ = rc.Close() }()
	d, err := fingerprint.Compute(rc, kinds, 0)
	if err != nil {
		return fingerprint.Digests{}, fmt.Errorf("failed to fingerprint entry %s: %w", name, err)
	}
	return d, nil
}

func (p *Pipeline) removeTemp(path string) {
	if err := p.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Error().Err(err).Str("path", path).Msg("failed to remove temp output")
	}
}

func kindsOf(d fingerprint.Digests) fingerprint.Set {
	s := fingerprint.SetCRC32
	if d.MD5 != "" {
		s = s.With(fingerprint.MD5)
	}
	if d.SHA1 != "" {
		s = s.With(fingerprint.SHA1)
	}
	return s
}

// sameDigests requires the size and every digest want carries to agree.
func sameDigests(want, got fingerprint.Digests) bool {
	if want.Size != got.Size {
		return false
	}
	for _, k := range kindsOf(want).Kinds() {
		if want.Get(k) == "" {
			continue
		}
		if !want.Equal(got, k) {
			return false
		}
	}
	return true
}
