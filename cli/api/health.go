package api

import (
	"context"
	"net/http"
)

type HealthMetrics struct {
	Status  string `json:"status"`
	Metrics struct {
		UptimeSeconds  int64   `json:"uptime_seconds"`
		BlockHeight    uint64  `json:"block_height"`
		PendingTx      int     `json:"pending_tx"`
		TxApplied      uint64  `json:"tx_applied"`
		TxFailed       uint64  `json:"tx_failed"`
		Producing      bool    `json:"producing"`
		CPULoadPercent float64 `json:"cpu_load_percent"`
		MemoryMB       float64 `json:"memory_mb"`
		DiskFreeMB     float64 `json:"disk_free_mb"`
		LastBlockTime  string  `json:"last_block_time"`
	} `json:"metrics"`
}

func (c *Client) GetHealthMetrics(ctx context.Context) (HealthMetrics, error) {
	var data HealthMetrics
	err := c.do(ctx, http.MethodGet, "/nodehealth", nil, &data)
	return data, err
}

// GetLiveness reports the node's liveness probe. A 503 means not alive.
func (c *Client) GetLiveness(ctx context.Context) (bool, error) {
	var result struct {
		Alive bool `json:"alive"`
	}
	err := c.do(ctx, http.MethodGet, "/health/liveness", nil, &result)
	if isUnavailable(err) {
		return false, nil
	}
	return result.Alive, err
}

func (c *Client) GetReadiness(ctx context.Context) (bool, error) {
	var result struct {
		Ready bool `json:"ready"`
	}
	err := c.do(ctx, http.MethodGet, "/health/readiness", nil, &result)
	if isUnavailable(err) {
		return false, nil
	}
	return result.Ready, err
}

func isUnavailable(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusServiceUnavailable
}
