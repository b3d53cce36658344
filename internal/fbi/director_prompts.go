package fbi

import (
	"fmt"
	"strings"
)

const improvePromptSystemPrompt = `You are a prompt strategist for a code-synthesis agent. Given a user's task ` +
	`and, when available, evidence from a previous failed attempt, produce a sharper prompt for a code generator. ` +
	`Respond with a single JSON object: {"improvedPrompt": string, "improvements": string[], "criticalFeedback": string}. ` +
	`Do not include any text outside the JSON object.`

const verdictSystemPrompt = `You are judging whether a code-synthesis agent should retry. Retry iff the last ` +
	`execution is not a success and there is plausible room to improve given the error kind and remaining ` +
	`iterations, or iff execution succeeded but the output clearly fails the user's stated goal. ` +
	`Respond with a single JSON object: {"shouldRetry": boolean, "reasoning": string}. ` +
	`Do not include any text outside the JSON object.`

const describeSystemPrompt = `Summarize what the following generated agent does in one sentence. ` +
	`Respond with a single JSON object: {"description": string}. Do not include any text outside the JSON object.`

func buildImprovePromptUserMessage(task string, dctx DirectorContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task)
	fmt.Fprintf(&b, "Language: %s\n", dctx.Language)
	if dctx.AgentName != "" {
		fmt.Fprintf(&b, "Agent name: %s\n", dctx.AgentName)
	}
	if dctx.SystemPrompt != "" {
		fmt.Fprintf(&b, "System prompt: %s\n", dctx.SystemPrompt)
	}
	if dctx.JudgingCriteria != "" {
		fmt.Fprintf(&b, "Judging criteria: %s\n", dctx.JudgingCriteria)
	}
	if dctx.Previous != nil {
		fmt.Fprintf(&b, "\nPrevious attempt prompt: %s\n", dctx.Previous.Prompt)
		fmt.Fprintf(&b, "Previous attempt code:\n%s\n", dctx.Previous.ExtractedCode)
		if dctx.Previous.Execution != nil {
			fmt.Fprintf(&b, "Previous execution success: %v\n", dctx.Previous.Execution.Success)
			fmt.Fprintf(&b, "Previous execution output: %s\n", dctx.Previous.Execution.Output)
			if dctx.Previous.Execution.Error != "" {
				fmt.Fprintf(&b, "Previous execution error (%s): %s\n", dctx.Previous.Execution.ErrorType, dctx.Previous.Execution.Error)
			}
		}
		if dctx.Previous.Error != "" {
			fmt.Fprintf(&b, "Previous attempt error: %s\n", dctx.Previous.Error)
		}
	}
	return b.String()
}

func buildVerdictUserMessage(task string, session *Session, currentIteration, maxIterations int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task)
	fmt.Fprintf(&b, "Current iteration: %d of %d\n\n", currentIteration, maxIterations)
	for _, attempt := range session.Attempts {
		fmt.Fprintf(&b, "Attempt %d:\n", attempt.AttemptNumber)
		fmt.Fprintf(&b, "  prompt: %s\n", attempt.Prompt)
		fmt.Fprintf(&b, "  extractionSuccess: %v\n", attempt.ExtractionSuccess)
		if attempt.Execution != nil {
			fmt.Fprintf(&b, "  execution.success: %v\n", attempt.Execution.Success)
			fmt.Fprintf(&b, "  execution.output: %s\n", attempt.Execution.Output)
			if attempt.Execution.Error != "" {
				fmt.Fprintf(&b, "  execution.errorType: %s\n", attempt.Execution.ErrorType)
				fmt.Fprintf(&b, "  execution.error: %s\n", attempt.Execution.Error)
			}
		}
	}
	return b.String()
}

func buildDescribeUserMessage(agentName, task, finalCode string) string {
	return fmt.Sprintf("Agent name: %s\nTask: %s\nFinal code:\n%s\n", agentName, task, finalCode)
}
