package repo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// FANOUT bounds how many segments share a bucket directory under data/,
// matching the layout sketched in spec.md §4.5.
const FANOUT = 10000

// formatVersion is written into config and checked on open so a future
// on-disk format change can be detected. Index files are never a
// compatibility surface and carry no version of their own.
const formatVersion = 1

// layout resolves the well-known paths under a repository root.
type layout struct {
	root string
}

func newLayout(root string) layout { return layout{root: root} }

func (l layout) lockPath() string   { return filepath.Join(l.root, "lock") }
func (l layout) configPath() string { return filepath.Join(l.root, "config") }
func (l layout) dataDir() string    { return filepath.Join(l.root, "data") }

func (l layout) bucketDir(segmentID uint32) string {
	return filepath.Join(l.dataDir(), strconv.FormatUint(uint64(segmentID/FANOUT), 10))
}

func (l layout) segmentPath(segmentID uint32) string {
	return filepath.Join(l.bucketDir(segmentID), strconv.FormatUint(uint64(segmentID), 10))
}

func (l layout) indexPath(n uint32) string {
	return filepath.Join(l.root, fmt.Sprintf("index.%d", n))
}

// listIndexFiles returns the segment ids named by every index.<N> file
// present in the repository root (not just the one that should be there —
// callers use this to detect the stale/phantom/missing-index cases from
// spec.md §4.4).
func (l layout) listIndexFiles() ([]uint32, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, err
	}
	var ids []uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rest, ok := strings.CutPrefix(e.Name(), "index.")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(rest, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(n))
	}
	return ids, nil
}

// listSegmentIDs returns every segment id with a store file on disk,
// across all bucket directories, sorted ascending.
func (l layout) listSegmentIDs() ([]uint32, error) {
	bucketDirs, err := os.ReadDir(l.dataDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []uint32
	for _, bd := range bucketDirs {
		if !bd.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(l.dataDir(), bd.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			n, err := strconv.ParseUint(f.Name(), 10, 32)
			if err != nil {
				continue
			}
			ids = append(ids, uint32(n))
		}
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids, nil
}

// repoConfig is the parsed content of the repository's config file: a
// minimal key=value format, not the CLI-facing configuration this module
// deliberately leaves as an excluded collaborator.
type repoConfig struct {
	ID      string
	Version int
}

// bootstrap creates a brand-new, empty repository layout at root: the
// data directory and a freshly generated config file. It writes no
// segment and no index; segment 0 is created when the log is first
// opened, and the first index file by the first Commit. It fails with
// ErrAlreadyExists if root already holds a config file.
func bootstrap(root string) error {
	l := newLayout(root)
	if _, err := os.Stat(l.configPath()); err == nil {
		return ErrAlreadyExists{Path: root}
	}
	if err := os.MkdirAll(l.dataDir(), 0755); err != nil {
		return fmt.Errorf("repo: create data dir: %w", err)
	}

	cfg := repoConfig{ID: uuid.NewString(), Version: formatVersion}
	if err := writeConfig(l, cfg); err != nil {
		return err
	}
	return nil
}

func writeConfig(l layout, cfg repoConfig) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "id=%s\n", cfg.ID)
	fmt.Fprintf(&sb, "version=%d\n", cfg.Version)
	return atomic.WriteFile(l.configPath(), strings.NewReader(sb.String()))
}

func readConfig(l layout) (repoConfig, error) {
	f, err := os.Open(l.configPath())
	if err != nil {
		return repoConfig{}, err
	}
	defer f.Close()

	var cfg repoConfig
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch k {
		case "id":
			cfg.ID = v
		case "version":
			n, err := strconv.Atoi(v)
			if err != nil {
				return repoConfig{}, fmt.Errorf("repo: bad version in config: %w", err)
			}
			cfg.Version = n
		}
	}
	if err := scanner.Err(); err != nil {
		return repoConfig{}, err
	}
	return cfg, nil
}
