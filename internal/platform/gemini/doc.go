// Package gemini adapts Google's Gemini streaming API to chat.Pipeline.
//
// Each request becomes one GenerateContentStream call whose contents are
// the session history followed by the user's message. Text chunks are
// relayed as token events and the joined text as the done event. Safety
// blocks become pipeline error events; transport and API failures abort
// the stream with a chat.CodedError carrying an LLM_* code.
package gemini
