package explain

import "strings"

const promptTemplate = `
You are a linguistic and psychological analysis expert tasked with evaluating human statements for truthfulness or deception.

Analyze the following transcript carefully:

'''{{transcript}}'''

Provide a detailed explanation describing linguistic cues, tone, detail level, and logical consistency that indicate whether this statement is likely to be truthful or deceptive.

Structure your response clearly with bullet points or numbered reasons, and conclude with an overall assessment.
`

// Prompt substitutes transcript, unmodified, into the analysis prompt.
func Prompt(transcript string) string {
	return strings.Replace(promptTemplate, "{{transcript}}", transcript, 1)
}
