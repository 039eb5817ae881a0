package server

import (
	"context"

	"github.com/hazyhaar/pagewatch/kit"
)

type historyRequest struct {
	Job     string `json:"job"`
	Limit   int    `json:"limit,omitempty"`
	Content bool   `json:"content,omitempty"`
}

type fetchesRequest struct {
	Job   string `json:"job"`
	Limit int    `json:"limit,omitempty"`
}

type resetRequest struct {
	Job string `json:"job"`
}

type runRequest struct {
	Wait bool `json:"wait,omitempty"`
}

// endpoints holds the operations shared by the HTTP and MCP transports,
// each wrapped with call logging.
type endpoints struct {
	listJobs kit.Endpoint
	history  kit.Endpoint
	fetches  kit.Endpoint
	reset    kit.Endpoint
	run      kit.Endpoint
	last     kit.Endpoint
}

func (s *Service) endpoints() endpoints {
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(s.logger, name))(ep)
	}
	return endpoints{
		listJobs: wrap("list_jobs", func(ctx context.Context, _ any) (any, error) {
			return s.ListJobs(ctx)
		}),
		history: wrap("history", func(ctx context.Context, req any) (any, error) {
			r := req.(*historyRequest)
			return s.History(ctx, r.Job, r.Limit, r.Content)
		}),
		fetches: wrap("fetches", func(ctx context.Context, req any) (any, error) {
			r := req.(*fetchesRequest)
			return s.Fetches(ctx, r.Job, r.Limit)
		}),
		reset: wrap("reset", func(ctx context.Context, req any) (any, error) {
			return s.Reset(ctx, req.(*resetRequest).Job)
		}),
		run: wrap("run", func(ctx context.Context, req any) (any, error) {
			return s.Run(ctx, req.(*runRequest).Wait)
		}),
		last: wrap("last", func(ctx context.Context, _ any) (any, error) {
			return s.Last(ctx)
		}),
	}
}
