package registry

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
)

var _ Handler = new(scriptHandler)

// scriptHandler runs a javascript snippet against the contact. The script
// sees `$` with the contact snapshot, its resolved params and an empty
// `$.vars` object; whatever it leaves in `$.vars` is merged into the
// instance variables.
type scriptHandler struct{}

func NewScriptHandler() Handler {
	return &scriptHandler{}
}

func (h *scriptHandler) Name() string {
	return "script"
}

func (h *scriptHandler) Execute(ctx Context) Result {
	source, _ := ctx.Params["script"].(string)
	if source == "" {
		return Fail(fmt.Errorf("script handler requires a script param"))
	}

	scope := map[string]any{
		"params": ctx.Params,
		"vars":   map[string]any{},
	}
	if ctx.Contact != nil {
		contact := make(map[string]any, len(ctx.Contact.Properties)+1)
		for k, v := range ctx.Contact.Properties {
			contact[k] = v
		}
		contact["id"] = ctx.Contact.Id
		scope["contact"] = contact
	}
	data, err := json.Marshal(scope)
	if err != nil {
		return Fail(err)
	}

	vm := goja.New()
	if _, err := vm.RunString(fmt.Sprintf("var $ = %s;\n%s", data, source)); err != nil {
		return Fail(fmt.Errorf("error executing javascript %w", err))
	}
	val, err := vm.RunString("$.vars")
	if err != nil {
		return Fail(fmt.Errorf("error executing javascript %w", err))
	}
	res := Ok()
	if out, ok := val.Export().(map[string]any); ok {
		res.Vars = out
	}
	return res
}
