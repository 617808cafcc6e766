package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thirdchat/thirdchat-go/core"
	"github.com/thirdchat/thirdchat-go/pkg/stomp"
)

// stompTransport adapts *stomp.Client to core.Transport. Only Subscribe
// needs wrapping for its return type; the rest of the surface matches.
type stompTransport struct {
	*stomp.Client
}

func (t stompTransport) Subscribe(destination string, handler func(body []byte)) (core.Subscription, error) {
	return t.Client.Subscribe(destination, handler)
}

// stompDialer builds the core.Dialer for the supervisor. A broker-side
// credential rejection is mapped to core.ErrAuthExpired so the supervisor
// treats it as terminal rather than retrying a dead token.
func stompDialer(wsURL, token string, logger *slog.Logger) core.Dialer {
	return func(ctx context.Context) (core.Transport, error) {
		client, err := stomp.Dial(ctx, stomp.Options{
			URL:    wsURL,
			Token:  token,
			Logger: logger,
		})
		if err != nil {
			if errors.Is(err, stomp.ErrRejected) {
				return nil, fmt.Errorf("%w: %v", core.ErrAuthExpired, err)
			}
			return nil, err
		}
		return stompTransport{client}, nil
	}
}
