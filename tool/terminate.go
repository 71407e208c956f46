package tool

import (
	"context"
	"fmt"
)

// TerminateName is the name of the tool that ends an agent run.
const TerminateName = "terminate"

type terminateTool struct{}

// NewTerminateTool returns the tool a model calls once the request is met or
// it cannot proceed. Agents detect the call by name and finish the run.
func NewTerminateTool() Tool { return terminateTool{} }

func (terminateTool) Name() string { return TerminateName }

func (terminateTool) Description() string {
	return "Terminate the interaction when the request is met OR if the assistant cannot proceed further with the task. " +
		"When you have finished all the tasks, call this tool to end the work."
}

func (terminateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type":        "string",
				"description": "The finish status of the interaction.",
				"enum":        []string{"success", "failure"},
			},
		},
		"required": []string{"status"},
	}
}

func (terminateTool) Call(_ context.Context, args map[string]any) (any, error) {
	status, _ := args["status"].(string)
	if status == "" {
		status = "success"
	}
	return fmt.Sprintf("The interaction has been completed with status: %s", status), nil
}
