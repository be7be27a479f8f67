package pollgen

import (
	"context"
	"errors"
	"testing"

	"github.com/sjawhar/pollcast/internal/polling"
	"github.com/sjawhar/pollcast/internal/schema"
)

type fakeGenerateAPI struct {
	resp       schema.GeneratePollResponse
	err        error
	credential string
	excerpt    string
}

func (f *fakeGenerateAPI) GeneratePoll(_ context.Context, sessionID, excerpt, credential string) (schema.GeneratePollResponse, error) {
	f.credential = credential
	f.excerpt = excerpt
	return f.resp, f.err
}

func TestRemoteGenerate(t *testing.T) {
	api := &fakeGenerateAPI{resp: schema.GeneratePollResponse{Question: "Q?", Options: []string{"a", "b", " "}}}
	g := NewRemote(api, "sk-test")

	draft, err := g.Generate(context.Background(), polling.Request{SessionID: "s-1", Excerpt: "excerpt"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if api.credential != "sk-test" || api.excerpt != "excerpt" {
		t.Fatalf("expected credential and excerpt forwarded, got %q %q", api.credential, api.excerpt)
	}
	if len(draft.Options) != 2 {
		t.Fatalf("expected blank option dropped, got %q", draft.Options)
	}
}

func TestRemoteGenerateErrors(t *testing.T) {
	api := &fakeGenerateAPI{err: errors.New("502 bad gateway")}
	if _, err := NewRemote(api, "k").Generate(context.Background(), polling.Request{}); !errors.Is(err, ErrGenerator) {
		t.Fatalf("expected ErrGenerator, got %v", err)
	}

	api = &fakeGenerateAPI{resp: schema.GeneratePollResponse{Question: "Q?", Options: []string{"only"}}}
	if _, err := NewRemote(api, "k").Generate(context.Background(), polling.Request{}); !errors.Is(err, ErrGenerator) {
		t.Fatalf("expected ErrGenerator for one option, got %v", err)
	}
}
