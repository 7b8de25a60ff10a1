package main

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/eshe-huli/ringforge/fem/internal/crypto"
	"github.com/eshe-huli/ringforge/fem/internal/notify"
	"github.com/eshe-huli/ringforge/fem/internal/store"
)

// journal is the watch callback: it fingerprints the file behind every
// admitted event and journals the event when the content changed.
type journal struct {
	store  *store.Store
	logger *slog.Logger
}

func (j *journal) handle(id uint64, path string, mask notify.Mask) {
	j.logger.Info("file event", "id", id, "path", path, "mask", uint32(mask))

	previous, err := j.store.FileHash(path)
	if err != nil {
		j.logger.Error("read fingerprint failed", "path", path, "error", err)
		return
	}

	hash, size, err := crypto.Blake3HashFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if previous == nil {
			return
		}
		if err := j.store.ForgetFile(path); err != nil {
			j.logger.Error("forget fingerprint failed", "path", path, "error", err)
			return
		}
		j.enqueue(store.Record{FileID: id, Path: path, Mask: uint32(mask)})
		return
	}
	if err != nil {
		j.logger.Warn("fingerprint failed", "path", path, "error", err)
		return
	}

	if crypto.SameContent(previous, hash) {
		j.logger.Debug("content unchanged", "path", path)
		return
	}
	if err := j.store.RecordFile(path, hash, size); err != nil {
		j.logger.Error("record fingerprint failed", "path", path, "error", err)
		return
	}
	j.enqueue(store.Record{FileID: id, Path: path, Mask: uint32(mask), Hash: hash})
}

func (j *journal) enqueue(rec store.Record) {
	if err := j.store.Enqueue(rec); err != nil {
		j.logger.Error("journal event failed", "path", rec.Path, "error", err)
	}
}
