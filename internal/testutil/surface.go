package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vdavid/chatsync/internal/browser"
	"github.com/vdavid/chatsync/internal/models"
)

// Route renders the page for a navigation. It typically calls SetPage.
type Route func(s *FakeSurface, url string)

// FakeSurface is an in-memory browser.Surface over a Node tree.
// Navigation is resolved through Routes by longest matching URL prefix.
type FakeSurface struct {
	mu sync.Mutex

	url     string
	root    *Node
	content string

	Routes map[string]Route
	// NavErrors are returned by successive Navigate calls before routing; nil entries succeed.
	NavErrors []error

	cookies []models.Cookie
	storage map[string]string

	navigations []string
	queries     []string
	screenshots []string
	closed      bool
}

var _ browser.Surface = (*FakeSurface)(nil)

// NewFakeSurface returns a surface showing an empty page at about:blank.
func NewFakeSurface() *FakeSurface {
	return &FakeSurface{
		url:     "about:blank",
		root:    N("body"),
		Routes:  make(map[string]Route),
		storage: make(map[string]string),
	}
}

// SetPage replaces the current document. content overrides Content() when non-empty.
func (s *FakeSurface) SetPage(url string, root *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	s.root = N("body").With(root)
	s.content = ""
}

// SetContent overrides the text returned by Content.
func (s *FakeSurface) SetContent(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = content
}

// Root returns the current document body.
func (s *FakeSurface) Root() *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

func (s *FakeSurface) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.navigations = append(s.navigations, url)
	if len(s.NavErrors) > 0 {
		err := s.NavErrors[0]
		s.NavErrors = s.NavErrors[1:]
		if err != nil {
			s.mu.Unlock()
			return err
		}
	}
	route := s.routeFor(url)
	s.mu.Unlock()

	if route != nil {
		route(s, url)
		return nil
	}
	s.SetPage(url, N("div"))
	return nil
}

func (s *FakeSurface) routeFor(url string) Route {
	var best Route
	bestLen := -1
	for prefix, r := range s.Routes {
		if strings.HasPrefix(url, prefix) && len(prefix) > bestLen {
			best, bestLen = r, len(prefix)
		}
	}
	return best
}

func (s *FakeSurface) Reload(ctx context.Context) error {
	return s.Navigate(ctx, s.currentURL())
}

func (s *FakeSurface) currentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *FakeSurface) CurrentURL(ctx context.Context) (string, error) {
	return s.currentURL(), ctx.Err()
}

func (s *FakeSurface) Content(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.content != "" {
		return s.content, ctx.Err()
	}
	return s.root.InnerText(), ctx.Err()
}

func (s *FakeSurface) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.queries = append(s.queries, selector)
	root := s.root
	s.mu.Unlock()

	nodes, err := root.querySelectorAll(selector, true)
	if err != nil {
		return nil, err
	}
	return s.wrap(nodes), nil
}

func (s *FakeSurface) WaitForSelector(ctx context.Context, selector string, _ time.Duration) (browser.Element, error) {
	els, err := s.QueryAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, browser.ErrElementNotFound
	}
	return els[0], nil
}

func (s *FakeSurface) Screenshot(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenshots = append(s.screenshots, path)
	return nil
}

func (s *FakeSurface) Cookies(ctx context.Context) ([]models.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Cookie(nil), s.cookies...), ctx.Err()
}

func (s *FakeSurface) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = append(s.cookies, cookies...)
	return ctx.Err()
}

// ClearCookies empties the cookie jar, as a platform-side session expiry would.
func (s *FakeSurface) ClearCookies() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = nil
}

// HasCookie reports whether a cookie with the given name and value is set.
func (s *FakeSurface) HasCookie(name, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cookies {
		if c.Name == name && c.Value == value {
			return true
		}
	}
	return false
}

func (s *FakeSurface) LocalStorage(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.storage))
	for k, v := range s.storage {
		out[k] = v
	}
	return out, ctx.Err()
}

func (s *FakeSurface) SetLocalStorage(ctx context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.storage[k] = v
	}
	return ctx.Err()
}

func (s *FakeSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *FakeSurface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Navigations returns every URL passed to Navigate, in order.
func (s *FakeSurface) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// Queries returns every page-level selector passed to QueryAll or WaitForSelector.
func (s *FakeSurface) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// Screenshots returns the paths passed to Screenshot.
func (s *FakeSurface) Screenshots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.screenshots...)
}

func (s *FakeSurface) wrap(nodes []*Node) []browser.Element {
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &fakeElement{node: n})
	}
	return out
}

type fakeElement struct {
	node *Node
}

func (e *fakeElement) Text(ctx context.Context) (string, error) {
	return e.node.InnerText(), ctx.Err()
}

func (e *fakeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.node.Attrs[name]
	return v, ok, ctx.Err()
}

func (e *fakeElement) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nodes, err := e.node.querySelectorAll(selector, false)
	if err != nil {
		return nil, err
	}
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &fakeElement{node: n})
	}
	return out, nil
}

func (e *fakeElement) Parent(ctx context.Context) (browser.Element, error) {
	if e.node.parent == nil {
		return nil, ctx.Err()
	}
	return &fakeElement{node: e.node.parent}, ctx.Err()
}

func (e *fakeElement) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.node.clicks++
	if e.node.OnClick != nil {
		e.node.OnClick()
	}
	return nil
}

func (e *fakeElement) Type(ctx context.Context, text string) error {
	e.node.typed = text
	return ctx.Err()
}
