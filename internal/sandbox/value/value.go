package value

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
)

// Kind tags a serialized value crossing the sandbox boundary
type Kind string

const (
	KindUndefined      Kind = "undefined"
	KindNull           Kind = "null"
	KindFunction       Kind = "function"
	KindSymbol         Kind = "symbol"
	KindError          Kind = "error"
	KindUnserializable Kind = "unserializable"
	KindValue          Kind = "value"
)

// Value is the tagged wire form of a runtime value.
//
// Payload holds JSON text: a JSON document for KindValue, a JSON string for
// the display kinds, an ErrorPayload object for KindError and nothing for
// undefined/null.
type Value struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload describes an error object
type ErrorPayload struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Undefined returns the undefined value
func Undefined() Value { return Value{Kind: KindUndefined} }

// Null returns the null value
func Null() Value { return Value{Kind: KindNull} }

// Function wraps the source text of a callable
func Function(source string) Value { return text(KindFunction, source) }

// Symbol wraps the display form of a symbol
func Symbol(display string) Value { return text(KindSymbol, display) }

// Unserializable wraps a best-effort display string
func Unserializable(display string) Value { return text(KindUnserializable, display) }

// Error wraps an error payload
func Error(p ErrorPayload) Value {
	raw, err := json.Marshal(p)
	if err != nil {
		return Unserializable(p.Message)
	}
	return Value{Kind: KindError, Payload: raw}
}

// JSON wraps JSON text. Invalid JSON degrades to an unserializable value.
func JSON(raw []byte) Value {
	if !json.Valid(raw) {
		return Unserializable(string(raw))
	}
	return Value{Kind: KindValue, Payload: append(json.RawMessage(nil), raw...)}
}

func text(kind Kind, s string) Value {
	raw, _ := json.Marshal(s)
	return Value{Kind: kind, Payload: raw}
}

// Text returns the display string of function, symbol and unserializable values
func (v Value) Text() string {
	var s string
	if len(v.Payload) == 0 || json.Unmarshal(v.Payload, &s) != nil {
		return ""
	}
	return s
}

// Err decodes the payload of an error value
func (v Value) Err() (ErrorPayload, bool) {
	var p ErrorPayload
	if v.Kind != KindError || json.Unmarshal(v.Payload, &p) != nil {
		return ErrorPayload{}, false
	}
	return p, true
}

// Serialize converts a goja value into its wire form. It never panics:
// anything that cannot be represented becomes KindUnserializable.
func Serialize(vm *goja.Runtime, v goja.Value) (out Value) {
	defer func() {
		if r := recover(); r != nil {
			out = Unserializable(display(v))
		}
	}()

	if v == nil || goja.IsUndefined(v) {
		return Undefined()
	}
	if goja.IsNull(v) {
		return Null()
	}
	if _, ok := goja.AssertFunction(v); ok {
		return Function(v.String())
	}
	if sym, ok := v.(*goja.Symbol); ok {
		// String is the bare description; well-known symbols describe
		// themselves as "Symbol.iterator" and display wrapped like any other
		return Symbol("Symbol(" + sym.String() + ")")
	}
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Error" {
		return Error(ErrorOf(obj))
	}

	raw, ok := stringify(vm, v)
	if !ok {
		return Unserializable(display(v))
	}
	return JSON([]byte(raw))
}

// SerializeThrown converts a thrown value into an error payload. Non-error
// throws (throw "x") keep their display form as the message.
func SerializeThrown(v goja.Value) (p ErrorPayload) {
	defer func() {
		if r := recover(); r != nil {
			p = ErrorPayload{Name: "Error", Message: display(v)}
		}
	}()

	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Error" {
		return ErrorOf(obj)
	}
	return ErrorPayload{Name: "Error", Message: display(v)}
}

// ErrorOf reads name, message and stack off an error object
func ErrorOf(obj *goja.Object) ErrorPayload {
	p := ErrorPayload{
		Name:    property(obj, "name"),
		Message: property(obj, "message"),
		Stack:   property(obj, "stack"),
	}
	return p
}

func property(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// stringify runs the context's own JSON.stringify so key order and
// toJSON hooks match what script code would observe.
func stringify(vm *goja.Runtime, v goja.Value) (string, bool) {
	jsonObj := vm.Get("JSON")
	if jsonObj == nil {
		return "", false
	}
	fn, ok := goja.AssertFunction(jsonObj.ToObject(vm).Get("stringify"))
	if !ok {
		return "", false
	}
	res, err := fn(jsonObj, v)
	if err != nil || res == nil || goja.IsUndefined(res) {
		return "", false
	}
	return res.String(), true
}

// display is the fallback text for values that have no wire form
func display(v goja.Value) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = "[unserializable]"
		}
	}()

	if v == nil {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		return fmt.Sprintf("[object %s]", obj.ClassName())
	}
	return v.String()
}
