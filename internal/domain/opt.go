package domain

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
)

// Opt 显式表达“字段存在/缺失”两种状态，避免 nil 与零值混用。
//
// JSON 形态：缺失 => null；存在 => 值本身。字段名始终输出（同一版本内结构稳定）。
type Opt[T any] struct {
	v  T
	ok bool
}

// Some 构造一个“存在”的值（即使 v 是零值，例如空串）。
func Some[T any](v T) Opt[T] { return Opt[T]{v: v, ok: true} }

// None 构造一个“缺失”的值。
func None[T any]() Opt[T] { return Opt[T]{} }

func (o Opt[T]) Get() (T, bool) { return o.v, o.ok }

func (o Opt[T]) Present() bool { return o.ok }

// Equal 供 go-cmp 比较使用（Opt 的字段未导出）。
func (o Opt[T]) Equal(x Opt[T]) bool {
	if o.ok != x.ok {
		return false
	}
	return !o.ok || reflect.DeepEqual(o.v, x.v)
}

// MarshalJSON 不转义 HTML 字符（"&"、"<" 原样输出），与记录文件的编码方式一致。
func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(o.v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (o *Opt[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*o = Opt[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Opt[T]{v: v, ok: true}
	return nil
}

// Blank 报告文本字段是否“等同缺失”：缺失，或存在但只有空白。
func Blank(o Opt[string]) bool {
	s, ok := o.Get()
	return !ok || strings.TrimSpace(s) == ""
}
