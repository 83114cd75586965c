package registry

import (
	"path"
	"reflect"
	"strings"

	"github.com/teamsquad/eventbus-go/catalog"
)

func elemType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// Namespace is the short name of t: the last element of its package path, a
// dot, and the type name. "github.com/acme/users.Consumer" becomes "users.Consumer".
func Namespace(t reflect.Type) string {
	t = elemType(t)
	if t.PkgPath() == "" {
		return t.Name()
	}
	return path.Base(t.PkgPath()) + "." + t.Name()
}

// ControllerID is the lower-cased, dash-joined namespace of t, unique per controller.
func ControllerID(t reflect.Type) string {
	return strings.ToLower(strings.ReplaceAll(Namespace(t), ".", "-"))
}

// ControllerURL is the path the per-message entry point serves t under.
func ControllerURL(t reflect.Type) string {
	return "/_/" + ControllerID(t)
}

// ControllerRoute returns the route entry for t.
func ControllerRoute(t reflect.Type) Route {
	id := ControllerID(t)
	return Route{Pattern: "/_/" + id, Route: id + "/index"}
}

// QueueName is the default queue of a handler method.
func QueueName(prefix string, t reflect.Type, method string) string {
	return prefix + "." + Namespace(t) + "." + method
}

// HandlerName identifies a handler method: the fully-qualified type name, "::"
// and the method name.
func HandlerName(t reflect.Type, method string) string {
	return catalog.TypeName(elemType(t)) + "::" + method
}
