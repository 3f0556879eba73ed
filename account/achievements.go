package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// BatchSize is the number of ids sent per achievement lookup; the API
// rejects longer id lists.
const BatchSize = 50

// AchievementEntry is one row of the achievement catalog.
type AchievementEntry struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type achievementProgress struct {
	ID   int  `json:"id"`
	Done bool `json:"done"`
}

// FetchUnlockedAchievementIDs returns the sorted ids of achievements the
// account has completed. Progress entries without a done flag count as not
// done. Any failure yields an empty result.
func (c *Client) FetchUnlockedAchievementIDs(ctx context.Context) []int {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if !c.authenticated() {
		c.logger.Error("fetching achievements without authorization")
		return nil
	}

	resp, err := c.get(ctx, pathAccountAchievements, nil)
	if err != nil {
		c.logger.Error("achievement progress request failed", "error", err)
		return nil
	}
	if resp.Status != http.StatusOK {
		c.logger.Warn("failed to get achievement progress", "status", resp.Status, "reason", describeStatus(resp.Status))
		return nil
	}

	var progress []achievementProgress
	if err := json.Unmarshal(resp.Body, &progress); err != nil {
		c.logger.Error("unparseable achievement progress", "error", err)
		return nil
	}

	ids := make([]int, 0, len(progress))
	for _, p := range progress {
		if p.Done {
			ids = append(ids, p.ID)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// ResolveAchievementNames looks up names for ids in batches of BatchSize and
// merges the results. A failing batch is logged and contributes nothing; the
// remaining batches are still requested. Partial content (206) counts as
// success.
func (c *Client) ResolveAchievementNames(ctx context.Context, ids []int) map[int]string {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	names := make(map[int]string)
	if !c.authenticated() {
		c.logger.Error("resolving achievements without authorization")
		return names
	}

	unique := slices.Clone(ids)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	for batch := range slices.Chunk(unique, BatchSize) {
		if ctx.Err() != nil {
			break
		}
		for _, entry := range c.lookupBatch(ctx, batch) {
			names[entry.ID] = entry.Name
		}
	}
	return names
}

func (c *Client) lookupBatch(ctx context.Context, batch []int) []AchievementEntry {
	parts := make([]string, len(batch))
	for i, id := range batch {
		parts[i] = strconv.Itoa(id)
	}

	resp, err := c.get(ctx, pathAchievements, url.Values{"ids": {strings.Join(parts, ",")}})
	if err != nil {
		c.logger.Error("achievement lookup failed", "error", err, "batch", len(batch))
		return nil
	}

	if resp.Status != http.StatusOK && resp.Status != http.StatusPartialContent {
		if errorText(resp.Body) == textAllIDsBad {
			c.logger.Warn("achievement batch contained only invalid ids", "first", batch[0], "batch", len(batch))
		} else {
			c.logger.Warn("achievement batch failed", "status", resp.Status, "reason", describeStatus(resp.Status))
		}
		return nil
	}

	var entries []AchievementEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		c.logger.Error("unparseable achievement batch", "error", err)
		return nil
	}
	return entries
}

// UnlockedAchievements returns the names of all completed achievements keyed by id.
func (c *Client) UnlockedAchievements(ctx context.Context) map[int]string {
	ids := c.FetchUnlockedAchievementIDs(ctx)
	if len(ids) == 0 {
		return map[int]string{}
	}
	return c.ResolveAchievementNames(ctx, ids)
}

func describeStatus(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not found"
	case status == http.StatusBadGateway || status == http.StatusGatewayTimeout:
		return "upstream unavailable"
	case status == http.StatusRequestTimeout:
		return "timeout"
	case status >= 500:
		return "server error"
	case status >= 400:
		return "client error"
	default:
		return "unexpected status"
	}
}
