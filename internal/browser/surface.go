package browser

import (
	"context"
	"errors"
	"time"

	"github.com/vdavid/chatsync/internal/models"
)

var (
	// ErrNavigationTimeout is returned when a page load does not finish in time.
	// It is the only error Retry treats as transient.
	ErrNavigationTimeout = errors.New("navigation timed out")
	// ErrElementNotFound is returned by WaitForSelector when nothing matched in time.
	ErrElementNotFound = errors.New("element not found")
)

// Surface is one isolated browser context driven on behalf of a single account.
// Implementations are not safe for concurrent use; the pool hands each
// surface to one owner at a time.
type Surface interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	// Content returns the rendered document HTML.
	Content(ctx context.Context) (string, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	Screenshot(ctx context.Context, path string) error
	Cookies(ctx context.Context) ([]models.Cookie, error)
	SetCookies(ctx context.Context, cookies []models.Cookie) error
	LocalStorage(ctx context.Context) (map[string]string, error)
	SetLocalStorage(ctx context.Context, values map[string]string) error
	Close() error
}

// Element is a handle to a node in the current document.
type Element interface {
	Text(ctx context.Context) (string, error)
	// Attribute reports whether the attribute is present alongside its value.
	Attribute(ctx context.Context, name string) (string, bool, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// Parent returns nil without error at the document root.
	Parent(ctx context.Context) (Element, error)
	Click(ctx context.Context) error
	Type(ctx context.Context, text string) error
}
