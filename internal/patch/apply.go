package patch

import (
	"fmt"
	"strconv"

	"github.com/obiverse/nine-s/internal/scroll"
)

func applyOp(doc any, op Op, lenient bool) (any, error) {
	ptr, err := ParsePointer(op.Path)
	if err != nil {
		return nil, err
	}
	switch op.Kind {
	case OpAdd:
		return addValue(doc, ptr, scroll.DeepCopy(op.Value))
	case OpRemove:
		return removeValue(doc, ptr)
	case OpReplace:
		if lenient {
			return addValue(doc, ptr, scroll.DeepCopy(op.Value))
		}
		return replaceValue(doc, ptr, scroll.DeepCopy(op.Value))
	case OpMove:
		from, err := ParsePointer(op.From)
		if err != nil {
			return nil, err
		}
		v, err := getValue(doc, from)
		if err != nil {
			return nil, err
		}
		doc, err = removeValue(doc, from)
		if err != nil {
			return nil, err
		}
		return addValue(doc, ptr, v)
	case OpCopy:
		from, err := ParsePointer(op.From)
		if err != nil {
			return nil, err
		}
		v, err := getValue(doc, from)
		if err != nil {
			return nil, err
		}
		return addValue(doc, ptr, scroll.DeepCopy(v))
	case OpTest:
		v, err := getValue(doc, ptr)
		if err != nil {
			return nil, err
		}
		if !scroll.DeepEqual(v, op.Value) {
			return nil, fmt.Errorf("%w at %q", ErrTestFailed, op.Path)
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidPointer, op.Kind)
	}
}

func getValue(doc any, ptr Pointer) (any, error) {
	cur := doc
	for _, tok := range ptr {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[tok]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrPathNotFound, ptr.String())
			}
			cur = v
		case []any:
			i, err := arrayIndex(tok, len(c), false)
			if err != nil {
				return nil, err
			}
			cur = c[i]
		default:
			return nil, fmt.Errorf("%w: %q traverses a non-container", ErrTypeMismatch, ptr.String())
		}
	}
	return cur, nil
}

// addValue sets v at ptr, creating intermediate mappings on demand. For
// arrays, a numeric token inserts and "-" appends.
func addValue(doc any, ptr Pointer, v any) (any, error) {
	if len(ptr) == 0 {
		return v, nil
	}
	return mutate(doc, ptr, func(parent any, tok string) (any, error) {
		switch p := parent.(type) {
		case map[string]any:
			p[tok] = v
			return p, nil
		case []any:
			i, err := arrayIndex(tok, len(p), true)
			if err != nil {
				return nil, err
			}
			p = append(p, nil)
			copy(p[i+1:], p[i:])
			p[i] = v
			return p, nil
		default:
			return nil, fmt.Errorf("%w: %q traverses a non-container", ErrTypeMismatch, ptr.String())
		}
	}, true)
}

// replaceValue sets v at ptr; the target must already exist.
func replaceValue(doc any, ptr Pointer, v any) (any, error) {
	if len(ptr) == 0 {
		return v, nil
	}
	return mutate(doc, ptr, func(parent any, tok string) (any, error) {
		switch p := parent.(type) {
		case map[string]any:
			if _, ok := p[tok]; !ok {
				return nil, fmt.Errorf("%w: %q", ErrPathNotFound, ptr.String())
			}
			p[tok] = v
			return p, nil
		case []any:
			i, err := arrayIndex(tok, len(p), false)
			if err != nil {
				return nil, err
			}
			p[i] = v
			return p, nil
		default:
			return nil, fmt.Errorf("%w: %q traverses a non-container", ErrTypeMismatch, ptr.String())
		}
	}, false)
}

// removeValue deletes the value at ptr; it must exist.
func removeValue(doc any, ptr Pointer) (any, error) {
	if len(ptr) == 0 {
		return nil, fmt.Errorf("%w: cannot remove the root document", ErrPathNotFound)
	}
	return mutate(doc, ptr, func(parent any, tok string) (any, error) {
		switch p := parent.(type) {
		case map[string]any:
			if _, ok := p[tok]; !ok {
				return nil, fmt.Errorf("%w: %q", ErrPathNotFound, ptr.String())
			}
			delete(p, tok)
			return p, nil
		case []any:
			i, err := arrayIndex(tok, len(p), false)
			if err != nil {
				return nil, err
			}
			return append(p[:i], p[i+1:]...), nil
		default:
			return nil, fmt.Errorf("%w: %q traverses a non-container", ErrTypeMismatch, ptr.String())
		}
	}, false)
}

// mutate walks to the parent of ptr's final token and applies fn to it,
// threading reallocated containers back up the chain. createParents
// materializes missing intermediate mappings.
func mutate(doc any, ptr Pointer, fn func(parent any, tok string) (any, error), createParents bool) (any, error) {
	if len(ptr) == 1 {
		return fn(doc, ptr[0])
	}
	tok := ptr[0]
	switch c := doc.(type) {
	case map[string]any:
		child, ok := c[tok]
		if !ok {
			if !createParents {
				return nil, fmt.Errorf("%w: %q", ErrPathNotFound, ptr.String())
			}
			child = map[string]any{}
		}
		next, err := mutate(child, ptr[1:], fn, createParents)
		if err != nil {
			return nil, err
		}
		c[tok] = next
		return c, nil
	case []any:
		i, err := arrayIndex(tok, len(c), false)
		if err != nil {
			return nil, err
		}
		next, err := mutate(c[i], ptr[1:], fn, createParents)
		if err != nil {
			return nil, err
		}
		c[i] = next
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q traverses a non-container", ErrTypeMismatch, ptr.String())
	}
}

// arrayIndex parses an array reference token. allowEnd admits "-" and
// the one-past-the-end index (insert position for add).
func arrayIndex(tok string, length int, allowEnd bool) (int, error) {
	if tok == "-" {
		if !allowEnd {
			return 0, fmt.Errorf("%w: %q", ErrPathNotFound, tok)
		}
		return length, nil
	}
	i, err := strconv.Atoi(tok)
	if err != nil || (len(tok) > 1 && tok[0] == '0') {
		return 0, fmt.Errorf("%w: array index %q", ErrInvalidPointer, tok)
	}
	limit := length
	if allowEnd {
		limit = length + 1
	}
	if i < 0 || i >= limit {
		return 0, fmt.Errorf("%w: array index %d out of range", ErrPathNotFound, i)
	}
	return i, nil
}
