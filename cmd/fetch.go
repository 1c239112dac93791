package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tmorandi/stubborn/internal/fetch"
	"github.com/tmorandi/stubborn/internal/id/uuid"
)

// newFetchCmd creates the 'fetch' subcommand, which runs one fetch through
// the attempt loop and prints the result as JSON.
func newFetchCmd() *cobra.Command {
	var (
		scope          string
		headers        []string
		maxAttempts    int
		timeoutSeconds int
		withBody       bool
	)

	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Fetch a single URL through the attempt policy engine",
		Long: `Runs one URL through the full attempt loop: rate limiting, identity
rotation, ban detection, and backoff. Prints the terminal result and the
per-attempt trail as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			id, err := uuid.New().NewID()
			if err != nil {
				return fmt.Errorf("generate request id: %w", err)
			}

			req := fetch.Request{
				ID:    id,
				URL:   args[0],
				Scope: scope,
			}
			if maxAttempts > 0 {
				req.MaxAttempts = maxAttempts
			}
			if timeoutSeconds > 0 {
				req.Timeout = time.Duration(timeoutSeconds) * time.Second
			}
			if len(headers) > 0 {
				req.Headers = make(http.Header, len(headers))
				for _, h := range headers {
					name, value, ok := splitHeader(h)
					if !ok {
						return fmt.Errorf("invalid header %q, expected Name: Value", h)
					}
					req.Headers.Set(name, value)
				}
			}

			result, fetchErr := appInstance.Orchestrator.Fetch(cmd.Context(), req)
			if !withBody {
				result.Body = nil
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}

			if fetchErr != nil {
				appInstance.Logger.Warn("fetch failed",
					zap.String("url", req.URL),
					zap.Error(fetchErr),
				)
				return fmt.Errorf("fetch: %w", fetchErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "rate-limit scope (defaults to the URL host)")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header, Name: Value (repeatable)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "override the configured attempt budget")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "overall deadline in seconds")
	cmd.Flags().BoolVar(&withBody, "body", false, "include the response body in the output")

	return cmd
}

func splitHeader(h string) (string, string, bool) {
	for i := 0; i < len(h); i++ {
		if h[i] == ':' {
			name := h[:i]
			value := h[i+1:]
			for len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
			if name == "" {
				return "", "", false
			}
			return name, value, true
		}
	}
	return "", "", false
}
