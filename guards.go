package siox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Finder loads what an id points to. A nil result with a nil error means
// nothing was found.
type Finder func(ctx context.Context, id any) (any, error)

// SearchOption tunes Search.
type SearchOption func(*searcher)

// SearchField reads the id from field instead of "<name>_id".
func SearchField(field string) SearchOption {
	return func(s *searcher) { s.field = field }
}

// NotFound replaces the default 404 "<Name> not found" failure.
func NotFound(code int, message string) SearchOption {
	return func(s *searcher) { s.code, s.message = code, message }
}

// CheckOnly verifies the entity exists without storing it on the Context.
func CheckOnly() SearchOption {
	return func(s *searcher) { s.checkOnly = true }
}

type searcher struct {
	name      string
	field     string
	find      Finder
	code      int
	message   string
	checkOnly bool
}

// Search looks up an entity before the handler runs. The id is taken from
// the payload field "<name>_id" and the result is stored on the Context
// under name, see Context.Entity. When nothing is found the event aborts
// with 404 "<Name> not found"; the failure is documented like DocAbort.
func Search(name string, find Finder, opts ...SearchOption) EventOption {
	s := &searcher{
		name:    name,
		field:   name + "_id",
		find:    find,
		code:    http.StatusNotFound,
		message: title(name) + " not found",
	}
	for _, opt := range opts {
		opt(s)
	}
	return func(c *eventConfig) {
		if find == nil {
			c.fail(fmt.Errorf("%w: Search(%q) without a finder", ErrInvalidOption, name))
			return
		}
		c.searches = append(c.searches, s)
		c.aborts = append(c.aborts, abortDoc{code: s.code, message: s.message})
	}
}

func (s *searcher) run(c *Context, e *ClientEvent, raw any) error {
	var id any
	if obj, ok := raw.(map[string]any); ok {
		id = obj[e.wireField(s.field)]
	}
	if id == nil {
		return Abort(s.code, s.message)
	}
	found, err := s.find(c.ctx, id)
	if err != nil {
		return fmt.Errorf("search %s %v: %w", s.name, id, err)
	}
	if found == nil {
		return Abort(s.code, s.message)
	}
	if !s.checkOnly {
		c.set(s.name, found)
	}
	return nil
}

const (
	unauthorizedMessage     = "Unauthorized"
	permissionDeniedMessage = "Permission denied"
)

type authorizer struct {
	key      string
	resolve  Finder
	optional bool
}

// AuthorizeOption tunes Authorize.
type AuthorizeOption func(*authorizer)

// Optional lets anonymous sockets through with a nil principal.
func Optional() AuthorizeOption {
	return func(a *authorizer) { a.optional = true }
}

// Authorize resolves the principal of the sending socket before the
// handler runs. The identity value under key is passed to resolve and the
// result is available through Context.Principal. A socket without that
// identity value is refused with 401 Unauthorized, a nil principal with
// 403 Permission denied. Both failures are documented.
func Authorize(key string, resolve Finder, opts ...AuthorizeOption) EventOption {
	a := &authorizer{key: key, resolve: resolve}
	for _, opt := range opts {
		opt(a)
	}
	return func(c *eventConfig) {
		switch {
		case resolve == nil:
			c.fail(fmt.Errorf("%w: Authorize without a resolver", ErrInvalidOption))
			return
		case c.authorize != nil:
			c.fail(fmt.Errorf("%w: Authorize declared twice", ErrInvalidOption))
			return
		}
		c.authorize = a
		c.aborts = append(c.aborts,
			abortDoc{code: http.StatusUnauthorized, message: unauthorizedMessage},
			abortDoc{code: http.StatusForbidden, message: permissionDeniedMessage},
		)
	}
}

func (a *authorizer) run(c *Context) error {
	identity := c.Identity()[a.key]
	if identity == nil {
		if a.optional {
			return nil
		}
		return Abort(http.StatusUnauthorized, unauthorizedMessage)
	}
	principal, err := a.resolve(c.ctx, identity)
	if err != nil {
		var signal *EventError
		if errors.As(err, &signal) {
			return err
		}
		return fmt.Errorf("authorize %v: %w", identity, err)
	}
	if principal == nil {
		return Abort(http.StatusForbidden, permissionDeniedMessage)
	}
	c.principal = principal
	return nil
}

// search runs every Search in declaration order.
func (e *ClientEvent) search(c *Context, raw any) error {
	for _, s := range e.searches {
		if err := s.run(c, e, raw); err != nil {
			return err
		}
	}
	return nil
}

func (e *ClientEvent) wireField(field string) string {
	if e.group == nil {
		return field
	}
	return e.group.casing.Wire(field)
}

// title turns "draft_note" into "Draft note".
func title(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}
