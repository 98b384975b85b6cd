// Package providers defines the provider-agnostic chat types and the Provider
// interface implemented by backend adapters.
//
// # Overview
//
// An adapter turns a chat-style message list into one backend's wire format,
// drives it through a shared executor.Executor, and returns the first
// completion's text with the token usage the backend reported. Adapters do
// no budget accounting; that is the gateway's job.
//
// # Basic Usage
//
//	exec := executor.New(executor.DefaultConfig())
//	client, err := openai.New(openai.Config{
//	    Name:    "openai",
//	    BaseURL: "https://api.openai.com/v1",
//	    APIKey:  os.Getenv("OPENAI_API_KEY"),
//	    Model:   "gpt-4o-mini",
//	}, exec)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := client.Chat(ctx, &providers.ChatRequest{
//	    Messages: []providers.Message{{Role: "user", Content: "Hello!"}},
//	})
//
// # Registry
//
// A Registry holds adapters by name so callers can resolve the provider named
// in a ledger key, including the "local" fallback.
//
// # Health
//
// Each adapter embeds a Health tracker that marks the provider unhealthy after
// three consecutive failed calls and healthy again after one success. The
// admin server reports it; nothing routes on it.
package providers
