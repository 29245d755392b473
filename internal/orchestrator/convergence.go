package orchestrator

import (
	"context"
	"time"

	"github.com/EpicMandM/vsphere-group-manager/internal/logger"
)

// IsGroupDown polls every member until all report poweredOff or the timeout
// runs out. The state is checked once immediately; after each failed check
// the wait sleeps one poll interval only if the next check would still start
// within the deadline. With instantaneous checks this gives exactly
// floor(timeout/interval)+1 checks. Time spent checking counts against the
// deadline.
func (g *Group) IsGroupDown(ctx context.Context, timeout time.Duration) (bool, error) {
	interval := g.opts.PollInterval
	deadline := g.opts.Now().Add(timeout)

	for {
		up, err := g.membersUp(ctx)
		if err != nil {
			return false, err
		}
		if len(up) == 0 {
			g.Logger.Info("Group is down", logger.Action("wait_down"), logger.Status("down"), logger.Count(g.Len()))
			return true, nil
		}

		remaining := deadline.Sub(g.opts.Now())
		for _, name := range up {
			g.Logger.Info("VM is UP", logger.Action("wait_down"), logger.VM(name), logger.Remaining(remaining))
		}
		if remaining-interval < 0 {
			g.Logger.Warn("Group did not power down in time",
				logger.Action("wait_down"),
				logger.Status("timeout"),
				logger.Timeout(timeout),
				logger.Count(len(up)))
			return false, nil
		}

		g.Logger.Debug("Waiting for group to power down", logger.Interval(interval), logger.Remaining(remaining))
		if err := g.opts.Sleep(ctx, interval); err != nil {
			return false, err
		}
	}
}

func (g *Group) membersUp(ctx context.Context) ([]string, error) {
	var up []string
	for _, m := range g.machines {
		down, err := m.IsDown(ctx)
		if err != nil {
			return nil, err
		}
		if !down {
			up = append(up, m.Name())
		}
	}
	return up, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
