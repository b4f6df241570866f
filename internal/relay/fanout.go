package relay

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// FanoutResult is one participant's outcome in a group chat. Order is the
// participant's position in the request.
type FanoutResult struct {
	Provider string `json:"provider"`
	Success  bool   `json:"success"`
	Msg      string `json:"msg"`
	Order    int    `json:"order"`
}

// GroupOptions carries the per-request settings shared by every participant.
type GroupOptions struct {
	APIKey string // caller-supplied key header, may be empty
	Group  string // group whose histories are used, "" for ungrouped
}

type participant func(ctx context.Context, provider string) Result

// GroupChat sends message to every provider concurrently and waits for all
// of them. One participant failing, even by panicking, never affects the
// others. Results come back in request order regardless of completion order.
func (s *Service) GroupChat(ctx context.Context, providers []string, message string, opts GroupOptions) []FanoutResult {
	s.logger.Info("Group chat", "participants", len(providers), "group", opts.Group)

	return fanout(ctx, providers, func(ctx context.Context, provider string) Result {
		return s.ChatWithContext(ctx, provider, message, opts.APIKey, opts.Group)
	}, s.logger)
}

func fanout(ctx context.Context, providers []string, call participant, logger *slog.Logger) []FanoutResult {
	// Each participant writes its own slot, so results are in request order.
	results := make([]FanoutResult, len(providers))

	// A plain Group: a failed sibling must not cancel the others.
	var g errgroup.Group
	for i, provider := range providers {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Participant panicked", "provider", provider, "panic", r)
					results[i] = FanoutResult{
						Provider: provider,
						Success:  false,
						Msg:      fmt.Sprint(r),
						Order:    i,
					}
				}
			}()

			res := call(ctx, provider)
			results[i] = FanoutResult{
				Provider: provider,
				Success:  res.Success,
				Msg:      res.Msg,
				Order:    i,
			}

			return nil
		})
	}

	// Participants never return errors; Wait is only the join.
	g.Wait()

	return results
}
