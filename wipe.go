// wipe.go: Multi-pass random overwrite and unlink of keyfiles
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/agilira/keywarden/audit"
)

// DefaultWipeBufferSize bounds the random buffer written per round: a fifth
// of the default secure-memory budget, leaving room for live keys.
const DefaultWipeBufferSize = DefaultSecureMemoryBudget / 5

// DefaultWipePasses is the number of overwrite passes used by the CLI.
const DefaultWipePasses = 3

// Wiper destroys files by overwriting them with random bytes several times
// and then unlinking them. It is independent of any KeyStore and only shares
// the provider's random source.
type Wiper struct {
	Provider SecureProvider
	// MaxBufferSize caps each random write. Zero selects
	// DefaultWipeBufferSize.
	MaxBufferSize int
	// Fs defaults to the OS filesystem.
	Fs     afero.Fs
	Logger Logger
	Audit  audit.Logger
}

// NewWiper returns a Wiper with default settings over p.
func NewWiper(p SecureProvider) *Wiper {
	return &Wiper{Provider: p}
}

func (w *Wiper) fs() afero.Fs {
	if w.Fs == nil {
		return afero.NewOsFs()
	}
	return w.Fs
}

func (w *Wiper) bufferSize() int64 {
	if w.MaxBufferSize <= 0 {
		return DefaultWipeBufferSize
	}
	return int64(w.MaxBufferSize)
}

// Plan returns the per-round buffer size and the number of rounds needed to
// cover fileSize bytes.
func (w *Wiper) Plan(fileSize int64) (bufSize int64, rounds int64) {
	bufSize = w.bufferSize()
	if fileSize < bufSize {
		bufSize = fileSize
	}
	if bufSize == 0 {
		return 0, 0
	}
	return bufSize, (fileSize + bufSize - 1) / bufSize
}

// WipeFile overwrites filename passes times and removes it.
//
// Each pass truncates the file and rewrites its original length in rounds of
// at most MaxBufferSize random bytes, then flushes and closes it. A short
// write aborts at once with InconsistentState and the file is left in place;
// a failed flush or close aborts with ReadFailed. Once every pass completed
// the file is unlinked. An unlink failure is only logged: the content is
// already gone.
func (w *Wiper) WipeFile(filename string, passes int) (err error) {
	log := loggerOrNop(w.Logger)
	defer func() { w.record(filename, passes, err) }()

	if w.Provider == nil || !w.Provider.Ready() {
		return newWipeError(filename, -1, KindNotInitialized, nil, "crypto provider not initialised")
	}
	if filename == "" {
		return newWipeError(filename, -1, KindInvalidArgument, nil, "no file specified")
	}
	if passes <= 0 {
		return newWipeError(filename, -1, KindInvalidArgument, nil, fmt.Sprintf("pass count must be positive (got %d)", passes))
	}

	fs := w.fs()
	log.Debugf("stat'ing %s", filename)
	info, err := fs.Stat(filename)
	if err != nil {
		return newWipeError(filename, -1, KindReadFailed, err, "could not stat file")
	}

	fileSize := info.Size()
	bufSize, rounds := w.Plan(fileSize)
	log.Debugf("wipe data: size %d, buffer %d, passes %d, rounds %d", fileSize, bufSize, passes, rounds)

	for pass := 0; pass < passes; pass++ {
		log.Debugf("wipe pass %d of %d", pass+1, passes)
		if err := w.overwrite(fs, filename, pass, fileSize, bufSize, rounds); err != nil {
			return err
		}
	}

	if rerr := fs.Remove(filename); rerr != nil {
		log.Errorf("error unlinking %s: %v", filename, rerr)
	} else {
		log.Debugf("%s wiped and removed", filename)
	}
	return nil
}

func (w *Wiper) overwrite(fs afero.Fs, filename string, pass int, fileSize, bufSize, rounds int64) error {
	f, err := fs.OpenFile(filename, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return newWipeError(filename, pass, KindReadFailed, err, "could not open file for overwrite")
	}

	for round := int64(0); round < rounds; round++ {
		n := bufSize
		if remaining := fileSize - round*bufSize; remaining < n {
			n = remaining
		}

		noise, err := w.Provider.Random(int(n), StandardRandom)
		if err != nil {
			_ = f.Close()
			return newWipeError(filename, pass, KindOf(err), err, "could not generate overwrite data")
		}
		written, werr := f.Write(noise.Bytes())
		noise.Destroy()

		if int64(written) != n {
			_ = f.Close()
			return newWipeError(filename, pass, KindInconsistentState, werr,
				fmt.Sprintf("round %d: expected to write %d bytes, wrote %d", round+1, n, written))
		}
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return newWipeError(filename, pass, KindReadFailed, err, "could not flush overwrite")
	}
	if err := f.Close(); err != nil {
		return newWipeError(filename, pass, KindReadFailed, err, "error closing file after overwrite")
	}
	return nil
}

func (w *Wiper) record(filename string, passes int, err error) {
	if w.Audit == nil {
		return
	}
	metadata := map[string]interface{}{
		"path":   filename,
		"passes": passes,
	}
	if err != nil {
		metadata["error"] = err.Error()
		metadata["kind"] = KindOf(err).String()
	}
	if aerr := w.Audit.Log("file.wipe", err == nil, metadata); aerr != nil {
		loggerOrNop(w.Logger).Warnf("audit logging failed for file.wipe: %v", aerr)
	}
}
