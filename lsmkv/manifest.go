package lsmkv

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/natefinch/atomic"
)

// manifestFileEntry records one live SST's identity and level. The
// sstable package's own header carries neither (spec §4.3's header
// has no level field), so the manifest is the source of truth an
// engine consults on reopen to rebuild its level structure — and the
// thing testable property 7 ("no live SST missing from the manifest")
// is checked against.
type manifestFileEntry struct {
	ID    uint64 `json:"id"`
	Level int    `json:"level"`
}

// manifestState is the full persisted version state for one table's
// LSM tree: the file-id and sequence-number counters (spec §9's
// "strictly monotonic counter persisted alongside the SST manifest to
// avoid duplicate ids on clock regression") plus the live file list.
type manifestState struct {
	NextFileID uint64               `json:"next_file_id"`
	NextSeq    uint64               `json:"next_seq"`
	Files      []manifestFileEntry  `json:"files"`
}

const manifestFileName = "MANIFEST.json"

func manifestPath(dir string) string {
	return filepath.Join(dir, manifestFileName)
}

func loadManifest(dir string) (manifestState, error) {
	data, err := os.ReadFile(manifestPath(dir))
	if os.IsNotExist(err) {
		return manifestState{NextFileID: 1, NextSeq: 1}, nil
	}
	if err != nil {
		return manifestState{}, newError(KindIoError, "read manifest", err)
	}
	var st manifestState
	if err := json.Unmarshal(data, &st); err != nil {
		return manifestState{}, newError(KindCorruption, "parse manifest", err)
	}
	if st.NextFileID == 0 {
		st.NextFileID = 1
	}
	if st.NextSeq == 0 {
		st.NextSeq = 1
	}
	return st, nil
}

func saveManifest(dir string, st manifestState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return newError(KindIoError, "marshal manifest", err)
	}
	if err := atomic.WriteFile(manifestPath(dir), bytes.NewReader(data)); err != nil {
		return newError(KindIoError, "write manifest", err)
	}
	return nil
}

func sstablePath(dir string, id uint64) string {
	return filepath.Join(dir, sstableFileName(id))
}

func sstableFileName(id uint64) string {
	return "sstable-" + strconv.FormatUint(id, 10) + ".db"
}
