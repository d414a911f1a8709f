package crawler

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/opengov-pe/radar/internal/domain"
)

// ExecRunner invokes the external scanner command for each session. The
// scanner writes link rows itself; the runner only owns the process.
func ExecRunner(cfg domain.CrawlerConfig) Runner {
	return func(ctx context.Context, sess *domain.ScanSession, depth int) error {
		cmd := exec.CommandContext(ctx, cfg.Command,
			"--session", sess.ID,
			"--url", sess.URLBase,
			"--depth", strconv.Itoa(depth),
		)

		out, err := cmd.CombinedOutput()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("scanner exited with error: %w (output: %s)", err, truncate(out, 512))
		}
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
