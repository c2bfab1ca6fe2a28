package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const railwayEndpoint = "https://backboard.railway.com/graphql/v2"

const deploymentsQuery = `query deployments($first: Int, $input: DeploymentListInput!) {
  deployments(first: $first, input: $input) {
    edges { node { id status } }
  }
}`

const restartMutation = `mutation deploymentRestart($id: String!) {
  deploymentRestart(id: $id)
}`

// RailwayClient talks to the hosting platform's GraphQL API to look up
// and restart the monitored service's active deployment.
type RailwayClient struct {
	endpoint      string
	token         string
	serviceID     string
	environmentID string
	httpClient    *http.Client
	breaker       *Breaker
}

func NewRailwayClient(token, serviceID, environmentID string, breaker *Breaker) *RailwayClient {
	return &RailwayClient{
		endpoint:      railwayEndpoint,
		token:         token,
		serviceID:     serviceID,
		environmentID: environmentID,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		breaker:       breaker,
	}
}

func (c *RailwayClient) query(ctx context.Context, query string, variables map[string]interface{}) ([]byte, error) {
	if !c.breaker.Allow(c.endpoint) {
		return nil, fmt.Errorf("circuit open for railway API")
	}

	jsonData, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal railway query: %w", err)
	}

	req, _ := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(jsonData))
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure(c.endpoint)
		return nil, fmt.Errorf("failed to call railway API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure(c.endpoint)
		return nil, fmt.Errorf("failed to read railway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure(c.endpoint)
		return nil, fmt.Errorf("railway API returned status %d", resp.StatusCode)
	}

	c.breaker.RecordSuccess(c.endpoint)
	if errs := gjson.GetBytes(body, "errors"); errs.Exists() && len(errs.Array()) > 0 {
		return nil, fmt.Errorf("railway API error: %s", errs.Array()[0].Get("message").String())
	}
	return body, nil
}

// LatestDeploymentID returns the most recent deployment of the configured
// service and environment.
func (c *RailwayClient) LatestDeploymentID(ctx context.Context) (string, error) {
	body, err := c.query(ctx, deploymentsQuery, map[string]interface{}{
		"first": 1,
		"input": map[string]interface{}{
			"serviceId":     c.serviceID,
			"environmentId": c.environmentID,
		},
	})
	if err != nil {
		return "", err
	}

	id := gjson.GetBytes(body, "data.deployments.edges.0.node.id").String()
	if id == "" {
		return "", fmt.Errorf("railway returned no deployments for service %s", c.serviceID)
	}
	return id, nil
}

// RestartDeployment restarts a deployment in place without a rebuild.
func (c *RailwayClient) RestartDeployment(ctx context.Context, deploymentID string) error {
	_, err := c.query(ctx, restartMutation, map[string]interface{}{"id": deploymentID})
	if err != nil {
		return fmt.Errorf("failed to restart deployment %s: %w", deploymentID, err)
	}
	return nil
}
