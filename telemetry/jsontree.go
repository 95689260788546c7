package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type jsonType int

const (
	jsonNull jsonType = iota
	jsonBool
	jsonNumber
	jsonString
	jsonArray
	jsonObject
)

func (t jsonType) String() string {
	switch t {
	case jsonNull:
		return "null"
	case jsonBool:
		return "bool"
	case jsonNumber:
		return "number"
	case jsonString:
		return "string"
	case jsonArray:
		return "array"
	case jsonObject:
		return "object"
	default:
		return "unknown"
	}
}

// jsonNode is a parsed JSON value. Unlike map[string]interface{} it keeps object members in
// declaration order (duplicates included) and numbers as their original literal.
type jsonNode struct {
	typ     jsonType
	b       bool
	num     json.Number
	str     string
	elems   []*jsonNode
	members []jsonMember
}

type jsonMember struct {
	name  string
	value *jsonNode
}

// parseJSON parses a complete JSON document. Trailing data after the first value is an error.
func parseJSON(data []byte) (*jsonNode, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	node, err := readJSONValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			return nil, errors.New("unexpected data after top-level value")
		}
		return nil, err
	}
	return node, nil
}

func readJSONValue(dec *json.Decoder) (*jsonNode, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	switch t := tok.(type) {
	case nil:
		return &jsonNode{typ: jsonNull}, nil
	case bool:
		return &jsonNode{typ: jsonBool, b: t}, nil
	case json.Number:
		return &jsonNode{typ: jsonNumber, num: t}, nil
	case string:
		return &jsonNode{typ: jsonString, str: t}, nil
	case json.Delim:
		switch t {
		case '{':
			return readJSONObject(dec)
		case '[':
			return readJSONArray(dec)
		}
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func readJSONObject(dec *json.Decoder) (*jsonNode, error) {
	node := &jsonNode{typ: jsonObject, members: []jsonMember{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		value, err := readJSONValue(dec)
		if err != nil {
			return nil, err
		}
		node.members = append(node.members, jsonMember{name: name, value: value})
	}
	// consume the closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return node, nil
}

func readJSONArray(dec *json.Decoder) (*jsonNode, error) {
	node := &jsonNode{typ: jsonArray, elems: []*jsonNode{}}
	for dec.More() {
		elem, err := readJSONValue(dec)
		if err != nil {
			return nil, err
		}
		node.elems = append(node.elems, elem)
	}
	// consume the closing ']'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return node, nil
}

// member returns the first member called `name`, nil if there is none or n is not an object.
func (n *jsonNode) member(name string) *jsonNode {
	if n == nil || n.typ != jsonObject {
		return nil
	}
	for _, m := range n.members {
		if m.name == name {
			return m.value
		}
	}
	return nil
}

func (n *jsonNode) is(typ jsonType) bool {
	return n != nil && n.typ == typ
}

// MarshalJSON re-encodes the node, keeping member order and number literals.
func (n *jsonNode) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *jsonNode) writeJSON(buf *bytes.Buffer) error {
	if n == nil {
		buf.WriteString("null")
		return nil
	}
	switch n.typ {
	case jsonNull:
		buf.WriteString("null")
	case jsonBool:
		if n.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case jsonNumber:
		buf.WriteString(n.num.String())
	case jsonString:
		encoded, err := json.Marshal(n.str)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case jsonArray:
		buf.WriteByte('[')
		for i, elem := range n.elems {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := elem.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case jsonObject:
		buf.WriteByte('{')
		for i, m := range n.members {
			if i > 0 {
				buf.WriteByte(',')
			}
			name, err := json.Marshal(m.name)
			if err != nil {
				return err
			}
			buf.Write(name)
			buf.WriteByte(':')
			if err := m.value.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}
