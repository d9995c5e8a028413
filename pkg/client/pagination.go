package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

// Pages returns a pull-based iterator over the method's result pages.
// Fetching happens inside Next; no goroutines are spawned and pages are
// requested strictly one after another.
//
//	it, err := items.Pages(ctx, "list", client.Args{})
//	for it.Next() {
//		for _, item := range it.Items() { ... }
//	}
//	if err := it.Err(); err != nil { ... }
func (r *Resource) Pages(ctx context.Context, method string, args Args) (*Iterator, error) {
	m, err := r.desc.Method(method)
	if err != nil {
		return nil, err
	}
	if m.Page == nil {
		return nil, &libretoerrors.ConfigError{
			Key:    "page",
			Reason: fmt.Sprintf("method %s has no pagination config", m.Name),
		}
	}
	return &Iterator{
		ctx:      ctx,
		resource: r,
		method:   m,
		cfg:      m.Page,
		args:     args.clone(),
		pageNum:  m.Page.StartPage,
	}, nil
}

// Iterator walks result pages one fetch per Next call. A page with zero
// items ends iteration without being yielded; bodies that are not JSON
// arrays need an items_path to be iterable.
type Iterator struct {
	ctx      context.Context
	resource *Resource
	method   *descriptor.MethodDescriptor
	cfg      *descriptor.PageConfig
	args     Args

	page    *transport.Response
	items   []any
	err     error
	yielded int
	pageNum int
	cursor  string
	next    string
	started bool
	done    bool
}

// Next fetches the next page. It returns false when iteration is
// exhausted, the result cap is reached, or an error occurred; Err
// distinguishes the two.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	if it.started && it.cfg.DelayMS > 0 {
		select {
		case <-it.ctx.Done():
			it.err = it.ctx.Err()
			return false
		case <-time.After(time.Duration(it.cfg.DelayMS) * time.Millisecond):
		}
	}

	resp, err := it.fetch()
	it.started = true
	if err != nil {
		it.err = err
		return false
	}

	items, err := it.extractItems(resp)
	if err != nil {
		it.err = err
		return false
	}
	if len(items) == 0 {
		it.done = true
		return false
	}

	if it.cfg.MaxResults > 0 && it.yielded+len(items) >= it.cfg.MaxResults {
		items = items[:it.cfg.MaxResults-it.yielded]
		it.done = true
	}

	it.page = resp
	it.items = items
	it.yielded += len(items)

	it.advance(resp, len(items))
	return true
}

// Page returns the most recent page yielded by Next.
func (it *Iterator) Page() *transport.Response { return it.page }

// Items returns the items of the most recent page, capped so the total
// never exceeds MaxResults.
func (it *Iterator) Items() []any { return it.items }

// Err returns the error that stopped iteration, or nil when the pages
// were simply exhausted.
func (it *Iterator) Err() error { return it.err }

// Count returns the number of items yielded so far.
func (it *Iterator) Count() int { return it.yielded }

// fetch builds and sends the request for the current position. Pagination
// parameters ride the query string and bypass payload validation; a Link
// follow-up reuses the advertised URL verbatim.
func (it *Iterator) fetch() (*transport.Response, error) {
	r := it.resource

	if it.cfg.Strategy == "link" && it.started && it.next != "" {
		req := transport.NewRequest(it.method.HTTPMethod, it.next, "")
		if len(it.args.Headers) > 0 {
			req = req.WithHeaders(it.args.Headers)
		}
		for name, value := range it.args.Cookies {
			req = req.WithCookie(name, value)
		}
		return r.send(it.ctx, it.method, req)
	}

	req, err := r.buildRequest(it.ctx, it.method, it.args)
	if err != nil {
		return nil, err
	}

	switch it.cfg.Strategy {
	case "cursor":
		if it.started && it.cursor != "" {
			req = req.WithParam(it.cfg.CursorParam, it.cursor)
		}
	case "params":
		req = req.WithParam(it.cfg.PageParam, it.pageNum)
		if it.cfg.SizeParam != "" && it.cfg.Size > 0 {
			req = req.WithParam(it.cfg.SizeParam, it.cfg.Size)
		}
	}
	return r.send(it.ctx, it.method, req)
}

// advance works out whether another page exists and where it lives.
func (it *Iterator) advance(resp *transport.Response, count int) {
	if it.done {
		return
	}
	switch it.cfg.Strategy {
	case "link":
		next := parseLinkNext(resp.Header("Link"))
		if next == "" {
			it.done = true
			return
		}
		it.next = next
	case "cursor":
		cursor, err := it.nextCursor(resp)
		if err != nil {
			it.err = err
			return
		}
		if cursor == "" {
			it.done = true
			return
		}
		it.cursor = cursor
	default:
		if it.cfg.Size > 0 && count < it.cfg.Size {
			it.done = true
			return
		}
		it.pageNum++
	}
}

// extractItems selects the item slice from a page: the items_path jq
// result when configured, otherwise a JSON array body.
func (it *Iterator) extractItems(resp *transport.Response) ([]any, error) {
	data, err := resp.JSON()
	if err != nil {
		return nil, libretoerrors.Wrap(err, "page body is not JSON")
	}
	if it.cfg.ItemsPath != "" {
		result, err := it.resource.client.jq.Execute(it.ctx, it.cfg.ItemsPath, data)
		if err != nil {
			return nil, libretoerrors.Wrap(err, "items_path failed")
		}
		switch v := result.(type) {
		case nil:
			return nil, nil
		case []any:
			return v, nil
		default:
			return []any{v}, nil
		}
	}
	if arr, ok := data.([]any); ok {
		return arr, nil
	}
	return nil, nil
}

// nextCursor evaluates cursor_path against the page JSON. Empty or null
// results mean the last page.
func (it *Iterator) nextCursor(resp *transport.Response) (string, error) {
	data, err := resp.JSON()
	if err != nil {
		return "", libretoerrors.Wrap(err, "page body is not JSON")
	}
	result, err := it.resource.client.jq.Execute(it.ctx, it.cfg.CursorPath, data)
	if err != nil {
		return "", libretoerrors.Wrap(err, "cursor_path failed")
	}
	if result == nil {
		return "", nil
	}
	cursor, err := cast.ToStringE(result)
	if err != nil {
		return "", libretoerrors.Wrap(err, "cursor_path produced a non-scalar value")
	}
	return cursor, nil
}

// parseLinkNext pulls the rel="next" URL out of a Link header.
func parseLinkNext(header string) string {
	for _, part := range strings.Split(header, ",") {
		sections := strings.Split(part, ";")
		if len(sections) < 2 {
			continue
		}
		target := strings.TrimSpace(sections[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, attr := range sections[1:] {
			key, value, ok := strings.Cut(strings.TrimSpace(attr), "=")
			if !ok {
				continue
			}
			if strings.TrimSpace(key) == "rel" && strings.Trim(strings.TrimSpace(value), `"`) == "next" {
				return strings.Trim(target, "<>")
			}
		}
	}
	return ""
}
