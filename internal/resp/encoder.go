package resp

import (
	"fmt"
	"strconv"
)

// Encode renders v to its RESP wire form. Simple strings and errors must not
// contain CR or LF — callers with untrusted or multi-line text must route it
// through BulkString instead (spec.md §4.A).
func Encode(v Value) []byte {
	var buf []byte
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) []byte {
	switch v.Type {
	case TypeSimpleString:
		buf = append(buf, '+')
		buf = append(buf, v.Str...)
		return append(buf, '\r', '\n')

	case TypeError:
		buf = append(buf, '-')
		buf = append(buf, v.Str...)
		return append(buf, '\r', '\n')

	case TypeInteger:
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, v.Int, 10)
		return append(buf, '\r', '\n')

	case TypeBulkString:
		if v.Null {
			return append(buf, '$', '-', '1', '\r', '\n')
		}
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(v.Bulk)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, v.Bulk...)
		return append(buf, '\r', '\n')

	case TypeArray:
		if v.Null {
			return append(buf, '*', '-', '1', '\r', '\n')
		}
		buf = append(buf, '*')
		buf = strconv.AppendInt(buf, int64(len(v.Array)), 10)
		buf = append(buf, '\r', '\n')
		for _, elem := range v.Array {
			buf = appendValue(buf, elem)
		}
		return buf

	default:
		panic(fmt.Sprintf("resp: encode: unknown type %q", byte(v.Type)))
	}
}

// EncodeCommand renders args as the array-of-bulk-strings wire form used for
// both client commands and replica propagation (spec.md §4.E): each argument
// becomes a bulk string, in order.
func EncodeCommand(args ...string) []byte {
	items := make([]Value, len(args))
	for i, a := range args {
		items[i] = BulkStringFrom(a)
	}
	return Encode(Value{Type: TypeArray, Array: items})
}
