package collector

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

func (c *Collector) handleScreenshot(ctx context.Context, data map[string]any) error {
	shot, err := payload(data).screenshot()
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	id, err := c.store.InsertScreenshot(ctx, shot)
	if err != nil {
		return err
	}
	c.logger.Debug("screenshot stored", "id", id, "filepath", shot.Filepath)
	return nil
}

func (c *Collector) handleClipboard(ctx context.Context, data map[string]any) error {
	ev, err := payload(data).clipboard()
	if err != nil {
		return fmt.Errorf("clipboard: %w", err)
	}
	id, err := c.store.InsertClipboardEvent(ctx, ev)
	if err != nil {
		return err
	}
	c.logger.Debug("clipboard event stored", "id", id, "content_type", ev.ContentType)
	return nil
}

func (c *Collector) handleAppUsage(ctx context.Context, data map[string]any) error {
	u, err := payload(data).appUsage()
	if err != nil {
		return fmt.Errorf("app usage: %w", err)
	}
	id, err := c.store.InsertAppUsage(ctx, u)
	if err != nil {
		return err
	}
	c.logger.Debug("app usage stored", "id", id, "app_name", u.AppName)
	return nil
}

func (c *Collector) handlePing(_ context.Context, data map[string]any) error {
	agentID, _ := payload(data).str("agent_id")
	if agentID == "" {
		agentID = "unknown"
	}
	c.agents.touch(agentID, c.now())
	c.logger.Debug("ping received", "agent_id", agentID)
	return nil
}

// lastSeen tracks the most recent ping per agent.
type lastSeen struct {
	mu sync.Mutex
	at map[string]time.Time
}

func (l *lastSeen) touch(agentID string, t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.at == nil {
		l.at = make(map[string]time.Time)
	}
	l.at[agentID] = t
}

func (l *lastSeen) snapshot() map[string]time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.at)
}
