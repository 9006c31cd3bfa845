package odata

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

// Pager walks a paginated OData collection by following @odata.nextLink.
// It is lazy: nothing is fetched until Next is called. A pager is
// restartable by constructing a new one with the same path and query.
type Pager struct {
	client Client
	path   string
	query  url.Values

	next string
	done bool
}

// NewPager builds a pager over the collection at path.
func NewPager(client Client, path string, query url.Values) *Pager {
	return &Pager{client: client, path: path, query: query}
}

// More reports whether another page may be available.
func (p *Pager) More() bool { return !p.done }

// Next fetches the next page and returns its raw items. Returns an empty
// slice after the collection is exhausted.
func (p *Pager) Next(ctx context.Context) ([]json.RawMessage, error) {
	if p.done {
		return nil, nil
	}

	var payload []byte
	var err error
	if p.next == "" {
		payload, err = p.client.Get(ctx, p.path, p.query)
	} else {
		// nextLink is a complete URL carrying its own continuation token.
		payload, err = p.client.Get(ctx, p.next, nil)
	}
	if err != nil {
		return nil, err
	}

	env, err := DecodeEnvelope(payload)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if len(env.Value) > 0 {
		if err := json.Unmarshal(env.Value, &items); err != nil {
			return nil, types.WrapError(types.ErrParse, err, "decode page items for %s", p.path)
		}
	}

	p.next = env.NextLink
	p.done = p.next == ""
	return items, nil
}

// All drains the pager and returns every item. Use only for collections
// known to be bounded.
func (p *Pager) All(ctx context.Context) ([]json.RawMessage, error) {
	var all []json.RawMessage
	for p.More() {
		items, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}
