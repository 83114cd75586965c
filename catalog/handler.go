package catalog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrNotHandler is returned for methods that are not Listen*/Handle* handlers.
	ErrNotHandler = errors.New("not a handler method")
	// ErrHandlerSignature is returned for handlers whose parameters cannot be supplied.
	ErrHandlerSignature = errors.New("unsupported handler signature")
)

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// HandlerMethod is a Listen*/Handle* method with its parameter layout:
//
//	[ctx context.Context,] payload [, publishedAt string]
type HandlerMethod struct {
	Name   string
	Method reflect.Method
	// Payload is the type of the first parameter after the optional context.
	Payload reflect.Type
	// Context is set when the method takes a leading context.Context.
	Context bool
	// PublishedAt is set when a string parameter follows the payload.
	PublishedAt bool
}

// IsHandlerName reports whether name starts with listen or handle, ignoring case.
func IsHandlerName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "listen") || strings.HasPrefix(lower, "handle")
}

// Handler inspects m, which must come from a type's method set. It returns
// ErrNotHandler when m is unexported, has the wrong name or has no required
// parameter, and ErrHandlerSignature when trailing parameters cannot be filled.
func Handler(m reflect.Method) (HandlerMethod, error) {
	if !m.IsExported() || !IsHandlerName(m.Name) {
		return HandlerMethod{}, ErrNotHandler
	}

	mt := m.Type
	h := HandlerMethod{Name: m.Name, Method: m}
	// index 0 is the receiver
	i := 1
	if i < mt.NumIn() && mt.In(i) == contextType {
		h.Context = true
		i++
	}
	if i >= mt.NumIn() || (mt.IsVariadic() && i == mt.NumIn()-1) {
		return HandlerMethod{}, ErrNotHandler
	}
	h.Payload = mt.In(i)
	i++

	if i < mt.NumIn() && mt.In(i).Kind() == reflect.String && !(mt.IsVariadic() && i == mt.NumIn()-1) {
		h.PublishedAt = true
		i++
	}
	if i < mt.NumIn() && !(mt.IsVariadic() && i == mt.NumIn()-1) {
		return HandlerMethod{}, fmt.Errorf("%w: %s has %d parameters, want [ctx,] payload [, publishedAt string]",
			ErrHandlerSignature, m.Name, mt.NumIn()-1)
	}
	return h, nil
}

// HandlerMethods returns the handler methods of t's pointer method set,
// sorted by name.
func HandlerMethods(t reflect.Type) ([]HandlerMethod, error) {
	if t.Kind() != reflect.Pointer {
		t = reflect.PointerTo(t)
	}

	var out []HandlerMethod
	for i := 0; i < t.NumMethod(); i++ {
		h, err := Handler(t.Method(i))
		if errors.Is(err, ErrNotHandler) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
