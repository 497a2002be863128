package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/openclaw/a2a"
)

// Host runs turns through the host agent tool, e.g. `openclaw agent`.
// The composed prompt travels as an argument, the structured payload on
// stdin. Output is plain text or a JSON object with response/text/message.
type Host struct {
	tool string
}

// NewHost returns a host-integrated runtime shelling out to tool.
func NewHost(tool string) *Host {
	return &Host{tool: tool}
}

// HostToolAvailable reports whether the host tool is discoverable on PATH.
func HostToolAvailable(tool string) bool {
	_, err := exec.LookPath(tool)
	return err == nil
}

func (h *Host) Name() string { return "host" }

func (h *Host) RunTurn(ctx context.Context, req TurnRequest) (string, error) {
	out, err := h.exec(ctx, turnPayload(req), "agent", "--prompt", req.Prompt)
	if err != nil {
		return "", err
	}
	text := parseTurnOutput(out)
	if text == "" {
		return "", fmt.Errorf("host tool %s produced no output", h.tool)
	}
	return text, nil
}

func (h *Host) Summarize(ctx context.Context, req SummaryRequest) (*a2a.Summary, error) {
	out, err := h.exec(ctx, summaryPayload(req), "agent", "--summarize", "--prompt", req.Prompt)
	if err != nil {
		return nil, err
	}
	return parseSummaryOutput(out), nil
}

func (h *Host) Notify(ctx context.Context, n Notification) error {
	_, err := h.exec(ctx, notifyPayload(n), "notify", n.Message)
	return err
}

func (h *Host) exec(ctx context.Context, p payload, args ...string) ([]byte, error) {
	stdin, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode host payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, h.tool, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("host tool %s failed: %w: %s", h.tool, err, stderr.String())
	}
	return stdout.Bytes(), nil
}
