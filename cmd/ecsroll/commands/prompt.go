package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudcompose/ecsroll/pkg/stores"
	"github.com/cloudcompose/ecsroll/pkg/workflow"
)

// consoleDecider asks the operator whether to resume a saved campaign. Only
// "yes" resumes; any other answer discards the snapshot.
type consoleDecider struct {
	in  io.Reader
	out io.Writer

	// modified reports when the snapshot file was last written. The
	// snapshot's own timestamp is shown when it is nil or finds nothing.
	modified func(ctx context.Context, cluster string) (time.Time, bool, error)
}

var _ workflow.ResumeDecider = (*consoleDecider)(nil)

func (d *consoleDecider) Decide(ctx context.Context, snapshot *stores.Snapshot) (workflow.Decision, error) {
	savedAt := snapshot.SavedAt
	if d.modified != nil {
		if mtime, ok, err := d.modified(ctx, snapshot.ClusterName); err == nil && ok {
			savedAt = mtime
		}
	}
	fmt.Fprintf(d.out, "Detected a partially completed upgrade on %s.\n", savedAt.Local().Format("2006-01-02 15:04:05"))
	if cursor := snapshot.Cursor(); cursor < len(snapshot.Nodes) {
		n := snapshot.Nodes[cursor]
		fmt.Fprintf(d.out, "%d of %d nodes replaced, next is %s (%s): %s\n",
			cursor, len(snapshot.Nodes), n.InstanceName, n.InstanceID, n.State)
	}
	fmt.Fprint(d.out, "Do you want continue this upgrade [yes/no]?: ")

	answer := make(chan string, 1)
	failed := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(d.in).ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			failed <- err
			return
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return workflow.DecisionResume, ctx.Err()
	case err := <-failed:
		return workflow.DecisionResume, fmt.Errorf("no answer to the resume prompt: %w", err)
	case line := <-answer:
		if strings.EqualFold(strings.TrimSpace(line), "yes") {
			return workflow.DecisionResume, nil
		}
		return workflow.DecisionDiscard, nil
	}
}
