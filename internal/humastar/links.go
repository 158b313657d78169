package humastar

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// LinkOptions names the well-known paths used when wiring links.
type LinkOptions struct {
	// Entry is the API entry point that links to every collection.
	Entry string
	// Search is an optional POST query endpoint advertised as rel="search".
	Search string
	// SkipTags excludes operations (e.g. Datastar endpoints) from linking.
	SkipTags []string
}

// Links holds RFC 8288 Link header values keyed by operation path.
type Links struct {
	byPath map[string][]string
	entry  string
}

// NewLinks returns an empty link set. Its Transformer can be installed in
// the Huma config before routes exist; [Links.Build] fills it afterwards.
func NewLinks() *Links {
	return &Links{byPath: map[string][]string{}}
}

// Build walks the OpenAPI spec and generates hypermedia links.
// Call after all routes are registered.
func (l *Links) Build(api huma.API, opts LinkOptions) {
	oapi := api.OpenAPI()
	l.byPath = map[string][]string{}
	l.entry = opts.Entry

	type pathInfo struct {
		path string
		tags []string
	}
	var collections, items []pathInfo

	for p, pi := range oapi.Paths {
		tags := primaryTags(pi)
		if slices.ContainsFunc(tags, func(t string) bool { return slices.Contains(opts.SkipTags, t) }) {
			continue
		}
		info := pathInfo{path: p, tags: tags}
		if strings.Contains(p, "{") {
			items = append(items, info)
		} else {
			collections = append(collections, info)
		}
	}
	_, hasSearch := oapi.Paths[opts.Search]
	hasSearch = hasSearch && opts.Search != ""

	// item → collection / up
	for _, item := range items {
		parent := path.Dir(item.path)
		if _, ok := oapi.Paths[parent]; ok {
			l.add(item.path, parent, "collection")
			l.add(item.path, parent, "up")
		}
	}

	// collection → item template, entry point and search
	for _, coll := range collections {
		for _, item := range items {
			if path.Dir(item.path) == coll.path {
				l.add(coll.path, item.path, "item")
			}
		}
		if coll.path == opts.Entry {
			continue
		}
		l.add(coll.path, opts.Entry, "up")
		if hasSearch && coll.path != opts.Search {
			l.add(coll.path, opts.Search, "search")
		}
	}

	// cross-link collections sharing a tag
	for i, a := range collections {
		for j, b := range collections {
			if i != j && sharedTag(a.tags, b.tags) {
				l.add(a.path, b.path, lastSegment(b.path))
			}
		}
	}

	// entry point links to every collection plus discovery rels
	if opts.Entry != "" {
		for _, coll := range collections {
			if coll.path != opts.Entry {
				l.add(opts.Entry, coll.path, lastSegment(coll.path))
			}
		}
		l.add(opts.Entry, "/openapi.json", "describedby")
		l.add(opts.Entry, "/openapi.json", "service-desc")
		l.add(opts.Entry, "/docs", "service-doc")
		if hasSearch {
			l.add(opts.Entry, opts.Search, "search")
		}
	}

	for _, all := range [][]pathInfo{collections, items} {
		for _, pi := range all {
			if ref := responseSchemaRef(oapi.Paths[pi.path]); ref != "" {
				l.add(pi.path, "/openapi.json#/components/schemas/"+ref, "describedby")
			}
		}
	}

	// document the relationships in the OpenAPI document itself
	for p, pi := range oapi.Paths {
		headers, ok := l.byPath[p]
		if !ok {
			continue
		}
		for _, op := range operationsOf(pi) {
			if op != nil {
				injectResponseLinks(op, headers)
			}
		}
	}
}

// For returns the Link header values registered for an operation path.
func (l *Links) For(opPath string) []string {
	return l.byPath[opPath]
}

// Root returns the entry point links, for non-Huma handlers such as the map page.
func (l *Links) Root() []string {
	return l.byPath[l.entry]
}

// Transformer returns a Huma Transformer that writes the Link headers at runtime.
func (l *Links) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range l.byPath[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link with the resolved URL.
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		// State-dependent action links from response body.
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}

		return v, nil
	}
}

func (l *Links) add(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	if slices.Contains(l.byPath[from], val) {
		return
	}
	l.byPath[from] = append(l.byPath[from], val)
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func sharedTag(a, b []string) bool {
	for _, at := range a {
		if slices.Contains(b, at) {
			return true
		}
	}
	return false
}

func lastSegment(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}

func injectResponseLinks(op *huma.Operation, headers []string) {
	if op.Responses == nil {
		return
	}
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLinkHeader(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{
			OperationRef: href,
			Description:  fmt.Sprintf("Related: %s", rel),
		}
	}
}

func responseSchemaRef(pi *huma.PathItem) string {
	if pi.Get == nil || pi.Get.Responses == nil {
		return ""
	}
	for code, resp := range pi.Get.Responses {
		if !strings.HasPrefix(code, "2") || resp.Content == nil {
			continue
		}
		for _, mt := range resp.Content {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				return lastSegment(mt.Schema.Ref)
			}
		}
	}
	return ""
}

// parseLinkHeader splits `<url>; rel="name"`.
func parseLinkHeader(h string) (rel, href string) {
	parts := strings.SplitN(h, ";", 2)
	if len(parts) < 2 {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(parts[0]), "<>")
	relPart := strings.TrimSpace(parts[1])
	if strings.HasPrefix(relPart, `rel="`) {
		rel = strings.Trim(relPart[4:], `"`)
	}
	return rel, href
}
