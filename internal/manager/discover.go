package manager

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// subAgentPrefix marks transcript files spawned for a sub-agent, excluded
// from discovery (§4.1 "excluding a documented sub-agent prefix").
const subAgentPrefix = "agent-"

var transcriptName = regexp.MustCompile(`\.jsonl$`)

// listTranscripts returns transcript candidate paths in dir with their
// mtimes, excluding sub-agent files. Missing dir is not an error: the
// project directory may not exist yet at register time.
func listTranscripts(dir string) (map[string]time.Time, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]time.Time{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !transcriptName.MatchString(name) {
			continue
		}
		if len(name) >= len(subAgentPrefix) && name[:len(subAgentPrefix)] == subAgentPrefix {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[filepath.Join(dir, name)] = info.ModTime()
	}
	return out, nil
}

// hasConversationRecord best-effort checks whether a file already contains
// at least one user/assistant record, used to disambiguate a resumed
// session's file from an unrelated pre-existing file that a wake just
// happened to touch.
func hasConversationRecord(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte(`"type":"user"`)) || bytes.Contains(data, []byte(`"type":"assistant"`))
}

// discoverResult is the outcome of one discovery attempt.
type discoverResult struct {
	path  string
	mtime time.Time
}

// discover implements the three-step algorithm of §4.1:
//  1. files modified after their snapshot mtime, unclaimed, containing a
//     conversation record already (resumed-session case) — most recent wins.
//  2. files absent from the snapshot, unclaimed — most recent wins.
//  3. nothing qualifies — caller stays in waiting-for-file.
func discover(dir string, snapshot map[string]time.Time, claimed *claimedFiles) (discoverResult, bool) {
	current, err := listTranscripts(dir)
	if err != nil {
		return discoverResult{}, false
	}

	var resumedCandidates []discoverResult
	var newCandidates []discoverResult

	for path, mtime := range current {
		if claimed.isClaimed(path) {
			continue
		}
		snapMtime, inSnapshot := snapshot[path]
		if inSnapshot {
			if mtime.After(snapMtime) && hasConversationRecord(path) {
				resumedCandidates = append(resumedCandidates, discoverResult{path: path, mtime: mtime})
			}
			continue
		}
		newCandidates = append(newCandidates, discoverResult{path: path, mtime: mtime})
	}

	if len(resumedCandidates) > 0 {
		sort.Slice(resumedCandidates, func(i, j int) bool {
			return resumedCandidates[i].mtime.After(resumedCandidates[j].mtime)
		})
		return resumedCandidates[0], true
	}

	if len(newCandidates) > 0 {
		sort.Slice(newCandidates, func(i, j int) bool {
			return newCandidates[i].mtime.After(newCandidates[j].mtime)
		})
		return newCandidates[0], true
	}

	return discoverResult{}, false
}
