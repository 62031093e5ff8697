package ci

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
)

// Branch URLs for the hg pushlog services.
var branchURLs = map[string]string{
	"autoland":        "https://hg.mozilla.org/integration/autoland",
	"mozilla-central": "https://hg.mozilla.org/mozilla-central",
}

// ErrUnknownBranch is returned for branches with no known pushlog.
var ErrUnknownBranch = fmt.Errorf("unknown project/branch")

// RevisionInfo is the pushlog metadata for a single revision.
type RevisionInfo struct {
	Node   string `json:"node"`
	PushID int    `json:"pushid"`
	Desc   string `json:"desc"`
	User   string `json:"user"`
}

// Push is one pushlog entry; Changesets is ordered with the tip last.
type Push struct {
	Changesets []string `json:"changesets"`
	Date       int64    `json:"date"`
	User       string   `json:"user"`
}

type pushlogResponse struct {
	Pushes map[string]Push `json:"pushes"`
}

// GetRevision fetches the pushlog record for a revision.
func (c *Client) GetRevision(ctx context.Context, revision, branch string) (*RevisionInfo, error) {
	base, ok := c.branches[branch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBranch, branch)
	}
	var info RevisionInfo
	key := fmt.Sprintf("revision-json-%s-%s", revision, branch)
	url := fmt.Sprintf("%s/json-rev/%s", base, revision)
	if err := c.GetJSON(ctx, url, nil, key, &info); err != nil {
		return nil, fmt.Errorf("fetch revision %s: %w", revision, err)
	}
	return &info, nil
}

// GetPushes returns up to depth pushes ending at endID, keyed by push ID.
// The pushlog is windowed, so the walk moves backwards until enough
// pushes accumulate or the log is exhausted.
func (c *Client) GetPushes(ctx context.Context, branch string, endID, depth int) (map[string]Push, error) {
	base, ok := c.branches[branch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBranch, branch)
	}

	all := map[string]Push{}
	for {
		startID := endID - depth
		if startID < 0 {
			startID = 0
		}
		url := fmt.Sprintf("%s/json-pushes?version=2&startID=%d&endID=%d", base, startID, endID)
		key := fmt.Sprintf("pushlog-%s-%d-%d", branch, startID, endID)

		var resp pushlogResponse
		if err := c.GetJSON(ctx, url, nil, key, &resp); err != nil {
			return nil, fmt.Errorf("fetch pushlog %s [%d, %d]: %w", branch, startID, endID, err)
		}
		for id, p := range resp.Pushes {
			all[id] = p
		}
		slog.Debug("pushlog window fetched", "branch", branch, "start", startID, "end", endID, "total", len(all))

		if len(all) >= depth {
			break
		}
		endID = startID - 1
		startID -= depth
		if startID < 0 {
			break
		}
	}

	// Keep only the newest depth pushes.
	ids := make([]int, 0, len(all))
	for id := range all {
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("non-numeric push id %q", id)
		}
		ids = append(ids, n)
	}
	sort.Ints(ids)
	if len(ids) > depth {
		ids = ids[len(ids)-depth:]
	}
	out := make(map[string]Push, len(ids))
	for _, id := range ids {
		k := strconv.Itoa(id)
		out[k] = all[k]
	}
	return out, nil
}

// SortedPushIDs returns the push IDs in ascending numeric order.
func SortedPushIDs(pushes map[string]Push) []string {
	ids := make([]int, 0, len(pushes))
	for id := range pushes {
		if n, err := strconv.Atoi(id); err == nil {
			ids = append(ids, n)
		}
	}
	sort.Ints(ids)
	out := make([]string, len(ids))
	for i, n := range ids {
		out[i] = strconv.Itoa(n)
	}
	return out
}
