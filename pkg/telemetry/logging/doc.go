// Package logging builds the process-wide structured logger.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
// Components derive their own logger with a component attribute:
//
//	log := slog.Default().With("component", "ledger")
//
// # Secret Redaction
//
// Unless disabled, string attributes are scrubbed before they are written:
//
//   - keys containing api_key, token, secret, password or authorization: sk-abc123xyz789 → sk-a***
//   - bearer tokens in any value: Bearer abc.def → Bearer ***
//   - provider keys in any value: sk-proj-abcdefgh12 → sk-***
package logging
