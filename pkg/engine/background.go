package engine

import (
	"bytes"
	"os"
	"time"

	"github.com/yuaidb/yuaidb/pkg/schema"
)

const (
	checkpointInterval  = 60 * time.Second
	configWatchInterval = 5 * time.Second
	ttlSweepInterval    = 300 * time.Second
)

func (e *Engine) startBackgroundTasks() {
	e.wg.Add(3)
	go e.runCheckpointLoop()
	go e.runConfigWatcher()
	go e.runTTLReaper()
}

// runCheckpointLoop periodically snapshots every table to disk and
// truncates the log once its contents are durably captured there.
func (e *Engine) runCheckpointLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if err := e.checkpointAll(); err != nil {
				e.log.Error("checkpoint failed: %v", err)
				continue
			}
			if err := e.truncateWAL(); err != nil {
				e.log.Error("wal truncate after checkpoint failed: %v", err)
			}
		}
	}
}

// runConfigWatcher polls the schema file for content changes and, on a
// change, flushes current state to snapshots, reloads the schema, and
// rebuilds indexes and autoincrement counters for the new definitions.
func (e *Engine) runConfigWatcher() {
	defer e.wg.Done()
	ticker := time.NewTicker(configWatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.checkConfigReload()
		}
	}
}

func (e *Engine) checkConfigReload() {
	raw, err := os.ReadFile(e.schemaPath)
	if err != nil {
		e.log.Warn("schema watch: read %q failed: %v", e.schemaPath, err)
		return
	}

	e.schemaRawMu.Lock()
	changed := !bytes.Equal(raw, e.lastSchema)
	if changed {
		e.lastSchema = raw
	}
	e.schemaRawMu.Unlock()
	if !changed {
		return
	}

	sch, err := schema.Parse(bytes.NewReader(raw))
	if err != nil {
		e.log.Warn("schema watch: parse failed, keeping previous schema: %v", err)
		return
	}

	e.log.Info("schema file changed, reloading")
	if err := e.checkpointAll(); err != nil {
		e.log.Error("schema reload: checkpoint failed: %v", err)
		return
	}

	e.schema.Swap(sch)
	for _, t := range sch.Tables {
		e.tables.GetOrCreate(t.Name)
	}
	for _, name := range e.tables.Names() {
		e.autoinc.clearTable(name)
		t, ok := e.tables.Get(name)
		if !ok {
			continue
		}
		rows := t.Snapshot()
		e.rebuildIndexesForTable(name, rows)
		e.seedAutoincForTable(name, rows)
	}

	// Replay whatever accrued in the log across the checkpoint and swap
	// above (neither holds walGuard against a concurrent mutation),
	// then truncate now that it's captured.
	if err := e.replayWALTail(); err != nil {
		e.log.Error("schema reload: wal tail replay failed: %v", err)
	}
}

// runTTLReaper periodically sweeps every table for rows past their
// expiry and removes them, independent of the lazy expiry check Select
// already applies on every read.
func (e *Engine) runTTLReaper() {
	defer e.wg.Done()
	ticker := time.NewTicker(ttlSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.sweepExpired()
		}
	}
}

func (e *Engine) sweepExpired() {
	now := time.Now().Unix()
	for _, name := range e.tables.Names() {
		t, ok := e.tables.Get(name)
		if !ok {
			continue
		}
		for _, r := range t.Snapshot() {
			if r.Expired(now) {
				if _, ok := t.Delete(r.ID); ok {
					e.unindexRow(name, r)
				}
			}
		}
	}
}
