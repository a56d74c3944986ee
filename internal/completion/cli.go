package completion

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CLIGenerator runs one process per request with the prompt as its only
// argument and reads the reply from stdout. The system instruction is passed
// in RECALL_SYSTEM_INSTRUCTION.
type CLIGenerator struct {
	binaryPath string
}

func NewCLIGenerator(binaryPath string) *CLIGenerator {
	return &CLIGenerator{binaryPath: strings.TrimSpace(binaryPath)}
}

func (g *CLIGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	cmd := exec.CommandContext(ctx, g.binaryPath, req.Prompt)
	cmd.Env = append(os.Environ(), "RECALL_SYSTEM_INSTRUCTION="+req.SystemInstruction)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// exec.CommandContext may surface "signal: killed" instead of context cancellation.
			return "", ctx.Err()
		}
		errText := strings.TrimSpace(stderr.String())
		if errText == "" {
			errText = strings.TrimSpace(stdout.String())
		}
		if errText != "" {
			return "", fmt.Errorf("generator cli failed: %w: %s", err, errText)
		}
		return "", fmt.Errorf("generator cli failed: %w", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
