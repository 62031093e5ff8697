package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const tcQueuePrefix = "https://firefox-ci-tc.services.mozilla.com/api/queue/"
const tcIndexPrefix = "https://firefox-ci-tc.services.mozilla.com/api/index/"

// Task is one entry of a task-group listing.
type Task struct {
	Status TaskStatus `json:"status"`
	Task   TaskDef    `json:"task"`
}

type TaskStatus struct {
	TaskID string `json:"taskId"`
	State  string `json:"state"`
}

type TaskDef struct {
	Metadata TaskMetadata `json:"metadata"`
	Payload  TaskPayload  `json:"payload"`
}

type TaskMetadata struct {
	Name string `json:"name"`
}

type TaskPayload struct {
	Env map[string]json.RawMessage `json:"env"`
}

// EnvString returns a payload environment variable as a string.
func (p TaskPayload) EnvString(name string) string {
	raw, ok := p.Env[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Artifact describes one artifact of a task.
type Artifact struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

type indexTask struct {
	Namespace string `json:"namespace"`
	TaskID    string `json:"taskId"`
}

type taskInfo struct {
	TaskGroupID string `json:"taskGroupId"`
}

// FindTaskGroupIDs resolves the task group IDs scheduled for a revision
// through the Taskcluster index. With searchCrons false only the
// decision task's group is returned; otherwise cron-scheduled groups are
// included too.
func (c *Client) FindTaskGroupIDs(ctx context.Context, revision, branch string, searchCrons bool) ([]string, error) {
	indexURL := fmt.Sprintf("%sv1/tasks/gecko.v2.%s.revision.%s.taskgraph", c.indexBase, branch, revision)
	key := fmt.Sprintf("task-ids-data-%s-%s", branch, revision)

	var resp struct {
		Tasks []indexTask `json:"tasks"`
	}
	if err := c.GetJSON(ctx, indexURL, nil, key, &resp); err != nil {
		return nil, fmt.Errorf("fetch task index for %s: %w", revision, err)
	}
	if len(resp.Tasks) == 0 {
		return nil, fmt.Errorf("no task IDs found for revision %s on %s", revision, branch)
	}

	var groupIDs []string
	for _, t := range resp.Tasks {
		if !searchCrons && !strings.HasSuffix(t.Namespace, "decision") {
			continue
		}
		var info taskInfo
		infoURL := c.queueBase + "v1/task/" + t.TaskID
		infoKey := fmt.Sprintf("task-group-%s-%s-%s", t.TaskID, branch, revision)
		if err := c.GetJSON(ctx, infoURL, nil, infoKey, &info); err != nil {
			return nil, fmt.Errorf("fetch task %s: %w", t.TaskID, err)
		}
		groupIDs = append(groupIDs, info.TaskGroupID)
	}
	if len(groupIDs) == 0 {
		return nil, fmt.Errorf("no decision task found for revision %s on %s", revision, branch)
	}
	return groupIDs, nil
}

// ListTaskGroup returns every task in a task group, following
// continuation tokens.
func (c *Client) ListTaskGroup(ctx context.Context, groupID string) ([]Task, error) {
	listURL := c.queueBase + "v1/task-group/" + groupID + "/list"

	var tasks []Task
	params := url.Values{"limit": {"200"}}
	for {
		var resp struct {
			Tasks             []Task `json:"tasks"`
			ContinuationToken string `json:"continuationToken"`
		}
		key := fmt.Sprintf("task-group-list-%s-%s", groupID, params.Get("continuationToken"))
		if err := c.GetJSON(ctx, listURL, params, key, &resp); err != nil {
			return nil, fmt.Errorf("list task group %s: %w", groupID, err)
		}
		tasks = append(tasks, resp.Tasks...)
		if resp.ContinuationToken == "" {
			return tasks, nil
		}
		params = url.Values{
			"limit":             {"200"},
			"continuationToken": {resp.ContinuationToken},
		}
	}
}

// ListArtifacts returns the artifacts of a task.
func (c *Client) ListArtifacts(ctx context.Context, taskID string) ([]Artifact, error) {
	var resp struct {
		Artifacts []Artifact `json:"artifacts"`
	}
	artURL := c.queueBase + "v1/task/" + taskID + "/artifacts"
	key := "task-artifacts-" + taskID
	if err := c.GetJSON(ctx, artURL, nil, key, &resp); err != nil {
		return nil, fmt.Errorf("list artifacts for task %s: %w", taskID, err)
	}
	return resp.Artifacts, nil
}

// ArtifactURL builds the download URL for one artifact of a task.
func (c *Client) ArtifactURL(taskID, name string) string {
	return c.queueBase + "v1/task/" + taskID + "/artifacts/" + name
}

// SuiteName extracts the suite name from a full task name, e.g.
// "test-linux64/opt-browsertime-tp6-firefox-amazon" yields
// "browsertime-tp6-firefox-amazon".
func SuiteName(taskName string) string {
	parts := strings.Split(taskName, "/")
	last := parts[len(parts)-1]
	fields := strings.Split(last, "-")
	if len(fields) < 2 {
		return last
	}
	return strings.Join(fields[1:], "-")
}
