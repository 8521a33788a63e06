package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Render formats a value for display: strings quoted, arrays as [a, b],
// objects as { k: v }, recursively.
func Render(v Value) string {
	switch v.Kind {
	case KindUndefined, "":
		return "undefined"
	case KindNull:
		return "null"
	case KindFunction, KindSymbol, KindUnserializable:
		return v.Text()
	case KindError:
		p, _ := v.Err()
		return p.Message
	case KindValue:
		s, err := renderJSON(v.Payload)
		if err != nil {
			return string(v.Payload)
		}
		return s
	default:
		return string(v.Payload)
	}
}

// RenderArgs joins rendered console arguments with a space
func RenderArgs(args []Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Render(a)
	}
	return strings.Join(parts, " ")
}

// renderJSON walks the token stream instead of decoding into maps so that
// object keys keep the order the context produced them in.
func renderJSON(raw []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var b strings.Builder
	if err := renderToken(dec, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

func renderToken(dec *json.Decoder, b *strings.Builder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			b.WriteByte('[')
			for i := 0; dec.More(); i++ {
				if i > 0 {
					b.WriteString(", ")
				}
				if err := renderToken(dec, b); err != nil {
					return err
				}
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
			b.WriteByte(']')
		case '{':
			b.WriteString("{ ")
			for i := 0; dec.More(); i++ {
				if i > 0 {
					b.WriteString(", ")
				}
				key, err := dec.Token()
				if err != nil {
					return err
				}
				fmt.Fprintf(b, "%v: ", key)
				if err := renderToken(dec, b); err != nil {
					return err
				}
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
			b.WriteString(" }")
		default:
			return fmt.Errorf("unexpected delimiter %q", t)
		}
	case string:
		b.WriteString(`"` + t + `"`)
	case json.Number:
		b.WriteString(t.String())
	case bool:
		fmt.Fprintf(b, "%t", t)
	case nil:
		b.WriteString("null")
	default:
		fmt.Fprintf(b, "%v", t)
	}
	return nil
}
