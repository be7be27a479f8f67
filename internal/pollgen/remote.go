package pollgen

import (
	"context"
	"fmt"

	"github.com/sjawhar/pollcast/internal/polling"
	"github.com/sjawhar/pollcast/internal/schema"
)

// GenerateAPI is the server call behind Remote; backend.Remote implements it.
type GenerateAPI interface {
	GeneratePoll(ctx context.Context, sessionID, excerpt, credential string) (schema.GeneratePollResponse, error)
}

// Remote asks the server to generate the poll, passing the caller's
// credential along with the excerpt.
type Remote struct {
	api        GenerateAPI
	credential string
}

func NewRemote(api GenerateAPI, credential string) *Remote {
	return &Remote{api: api, credential: credential}
}

func (r *Remote) Generate(ctx context.Context, req polling.Request) (polling.Draft, error) {
	resp, err := r.api.GeneratePoll(ctx, req.SessionID, req.Excerpt, r.credential)
	if err != nil {
		if ctx.Err() != nil {
			return polling.Draft{}, ctx.Err()
		}
		return polling.Draft{}, fmt.Errorf("%w: server generation: %w", ErrGenerator, err)
	}
	draft, ok := build(resp.Question, resp.Options)
	if !ok {
		return polling.Draft{}, fmt.Errorf("%w: server returned %d options", ErrGenerator, len(resp.Options))
	}
	return draft, nil
}
