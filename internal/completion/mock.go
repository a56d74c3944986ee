package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MockGenerator provides deterministic local replies when no backend is
// configured.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return buildMockReply(req.Prompt), nil
}

func buildMockReply(prompt string) string {
	var p Payload
	if err := json.Unmarshal([]byte(prompt), &p); err != nil {
		p = Payload{Query: prompt}
	}

	base := strings.TrimSpace(p.Query)
	if base == "" {
		base = "nothing"
	}
	if len(p.History) == 0 {
		return fmt.Sprintf("I heard you: %s", base)
	}

	last := strings.TrimSpace(p.History[0].UserPrompt)
	if last == "" {
		return fmt.Sprintf("I heard you: %s", base)
	}
	return fmt.Sprintf("I heard you: %s\nI also remember: %s", base, last)
}
