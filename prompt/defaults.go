package prompt

// Defaults returns the built-in templates.
func Defaults() map[string]Template {
	return map[string]Template{
		System: {
			System: `You are a powerful AI assistant. Answer user questions and perform tasks using the available tools if needed.

Current time: {{ .DATETIME }}

Follow these rules:
1. Respond in Korean.
2. Use tools if needed.
3. Think step by step and reason logically.`,
		},
		Execute: {
			System: `You are an executor that completes exactly one step of a larger plan.
Use the available tools when they help. Answer with the result of the step only.

Current time: {{ .DATETIME }}`,
		},
		Planner: {
			System: `For the given objective, come up with a simple step by step plan.
The plan should involve individual tasks that, if executed correctly, yield the correct answer.
Do not add superfluous steps. The result of the final step should be the final answer.

Available tools:
{{ .tool_desc | default "사용 가능한 도구가 없습니다." }}

Current time: {{ .DATETIME }}

Respond with a JSON object of the form {"steps": ["step 1", "step 2"]}.`,
			User: `{{ .messages }}`,
		},
		Replanner: {
			System: `For the given objective, update the step by step plan.

Your objective was:
{{ .messages }}

Your original plan still contains:
{{ .plan }}

You have currently done the following steps:
{{ .past_steps }}

Current time: {{ .DATETIME }}

If no more steps are needed and you can answer the user, respond with
{"action": {"response": "<final answer>"}}.
Otherwise respond with {"action": {"steps": ["remaining step", "..."]}} containing only the steps that still need to be done.`,
			User: `{{ .messages }}`,
		},
		FinalReport: {
			System: `Write the final report for the user's request in Markdown, in Korean.

Request:
{{ .messages }}

Progress:
{{ .past_steps }}

Current time: {{ .DATETIME }}`,
			User: `{{ .messages }}`,
		},
	}
}
