package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/openclaw/a2a"
)

// Generic bridges to operator-supplied commands. Each command is run through
// the shell, reads a JSON payload on stdin and writes plain text or a JSON
// object. Summary and notify commands are optional; absent ones report
// ErrUnsupported so the adapter can fall through.
type Generic struct {
	turnCmd    string
	summaryCmd string
	notifyCmd  string
}

// NewGeneric returns a generic runtime. summaryCmd defaults to turnCmd when
// empty; notifyCmd has no default.
func NewGeneric(turnCmd, summaryCmd, notifyCmd string) *Generic {
	if summaryCmd == "" {
		summaryCmd = turnCmd
	}
	return &Generic{turnCmd: turnCmd, summaryCmd: summaryCmd, notifyCmd: notifyCmd}
}

func (g *Generic) Name() string { return "generic" }

func (g *Generic) RunTurn(ctx context.Context, req TurnRequest) (string, error) {
	if g.turnCmd == "" {
		return "", ErrUnsupported
	}
	out, err := g.exec(ctx, g.turnCmd, turnPayload(req))
	if err != nil {
		return "", err
	}
	text := parseTurnOutput(out)
	if text == "" {
		return "", fmt.Errorf("agent command produced no output")
	}
	return text, nil
}

func (g *Generic) Summarize(ctx context.Context, req SummaryRequest) (*a2a.Summary, error) {
	if g.summaryCmd == "" {
		return nil, ErrUnsupported
	}
	out, err := g.exec(ctx, g.summaryCmd, summaryPayload(req))
	if err != nil {
		return nil, err
	}
	return parseSummaryOutput(out), nil
}

func (g *Generic) Notify(ctx context.Context, n Notification) error {
	if g.notifyCmd == "" {
		return ErrUnsupported
	}
	_, err := g.exec(ctx, g.notifyCmd, notifyPayload(n))
	return err
}

func (g *Generic) exec(ctx context.Context, command string, p payload) ([]byte, error) {
	stdin, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("command failed: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}
