// Package openai implements a chat adapter for OpenAI-compatible chat
// completion APIs: OpenAI itself, Gemini's and Grok's compatibility
// endpoints, and local servers such as Ollama or LM Studio.
//
// Requests are sent through an executor.Executor, so every call shares the
// process-wide admission gate and retry budget handling. The completion text
// is read from choices[0].message.content; a response without it fails with
// *providers.MalformedResponseError.
package openai
