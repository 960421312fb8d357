// Command pusher sends a single event or request over the configured backend
// and, for requests, prints the serialized response.
package main

import (
	"errors"
	"fmt"
	"os"

	xpush "github.com/trickstertwo/xpush"
	_ "github.com/trickstertwo/xpush/adapter/memory"
	_ "github.com/trickstertwo/xpush/adapter/nats"
	_ "github.com/trickstertwo/xpush/adapter/redisstream"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errorKind(err), err)
		os.Exit(1)
	}
}

// errorKind names the failure class printed in front of the message.
func errorKind(err error) string {
	var (
		timeoutErr *xpush.RequestTimeoutError
		invalidErr *xpush.InvalidRequestError
		validErr   *xpush.ValidationError
		parseErr   *xpush.ParseError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return "RequestTimeoutError"
	case errors.As(err, &invalidErr):
		return "InvalidRequestError"
	case errors.As(err, &validErr):
		return "ValidationError"
	case errors.As(err, &parseErr):
		return "ParseError"
	case errors.As(err, new(usageError)):
		return "UsageError"
	}
	return "BackendError"
}
