package ai

import "fmt"

// BuildPrompt assembles the full prompt for one chat turn from the tenant's
// welcome message and the retrieved context (chat history + chunks).
func BuildPrompt(message, context, welcomeMessage string) string {
	systemPrompt := fmt.Sprintf(`You are a helpful AI assistant.
Welcome message: %s

Context from documents along with chat history:
%s

Please provide a helpful response based on the context provided.
If the context doesn't contain relevant information, provide a general helpful response.
Don't mention 'context' word`, welcomeMessage, context)

	return fmt.Sprintf("%s\n\nUser: %s\n\nAssistant:", systemPrompt, message)
}
