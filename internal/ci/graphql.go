package ci

import (
	"context"
	"fmt"
)

const tcGraphQLURL = "https://firefox-ci-tc.services.mozilla.com/graphql"

// WorkerTypeNode summarizes one worker type's scheduling pressure.
type WorkerTypeNode struct {
	ProvisionerID string `json:"provisionerId"`
	WorkerType    string `json:"workerType"`
	PendingTasks  int    `json:"pendingTasks"`
}

// WorkerNode describes one machine in a worker pool.
type WorkerNode struct {
	WorkerID        string      `json:"workerId"`
	State           string      `json:"state"`
	QuarantineUntil string      `json:"quarantineUntil"`
	LatestTask      *LatestTask `json:"latestTask"`
}

type LatestTask struct {
	Run *TaskRun `json:"run"`
}

type TaskRun struct {
	TaskID   string `json:"taskId"`
	State    string `json:"state"`
	Started  string `json:"started"`
	Resolved string `json:"resolved"`
}

const workerTypesQuery = `query ViewWorkerTypes($provisionerId: String!, $workerTypesConnection: PageConnection) {
  workerTypes(provisionerId: $provisionerId, connection: $workerTypesConnection) {
    edges { node { provisionerId workerType pendingTasks } }
  }
}`

const workersQuery = `query ViewWorkers($provisionerId: String!, $workerType: String!, $workersConnection: PageConnection) {
  workers(provisionerId: $provisionerId, workerType: $workerType, connection: $workersConnection) {
    edges { node { workerId state quarantineUntil latestTask { run { taskId state started resolved } } } }
  }
}`

type graphQLRequest struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Query         string         `json:"query"`
}

// ListWorkerTypes returns pending-task counts per worker type under a
// provisioner.
func (c *Client) ListWorkerTypes(ctx context.Context, graphqlURL, provisionerID string) ([]WorkerTypeNode, error) {
	if graphqlURL == "" {
		graphqlURL = tcGraphQLURL
	}
	req := graphQLRequest{
		OperationName: "ViewWorkerTypes",
		Variables: map[string]any{
			"provisionerId":         provisionerID,
			"workerTypesConnection": map[string]any{"limit": 1000},
		},
		Query: workerTypesQuery,
	}
	var resp struct {
		Data struct {
			WorkerTypes struct {
				Edges []struct {
					Node WorkerTypeNode `json:"node"`
				} `json:"edges"`
			} `json:"workerTypes"`
		} `json:"data"`
	}
	if err := c.PostJSON(ctx, graphqlURL, req, &resp); err != nil {
		return nil, fmt.Errorf("list worker types for %s: %w", provisionerID, err)
	}
	out := make([]WorkerTypeNode, 0, len(resp.Data.WorkerTypes.Edges))
	for _, e := range resp.Data.WorkerTypes.Edges {
		out = append(out, e.Node)
	}
	return out, nil
}

// ListWorkers returns the machines of one worker pool.
func (c *Client) ListWorkers(ctx context.Context, graphqlURL, provisionerID, workerType string) ([]WorkerNode, error) {
	if graphqlURL == "" {
		graphqlURL = tcGraphQLURL
	}
	req := graphQLRequest{
		OperationName: "ViewWorkers",
		Variables: map[string]any{
			"provisionerId":     provisionerID,
			"workerType":        workerType,
			"workersConnection": map[string]any{"limit": 1000},
		},
		Query: workersQuery,
	}
	var resp struct {
		Data struct {
			Workers struct {
				Edges []struct {
					Node WorkerNode `json:"node"`
				} `json:"edges"`
			} `json:"workers"`
		} `json:"data"`
	}
	if err := c.PostJSON(ctx, graphqlURL, req, &resp); err != nil {
		return nil, fmt.Errorf("list workers for %s/%s: %w", provisionerID, workerType, err)
	}
	out := make([]WorkerNode, 0, len(resp.Data.Workers.Edges))
	for _, e := range resp.Data.Workers.Edges {
		out = append(out, e.Node)
	}
	return out, nil
}
