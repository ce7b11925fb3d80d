package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

type HandlerFunc func(ctx context.Context, payload []byte) error

type TypedHandlerFunc[T any] func(ctx context.Context, msg *T) error

// JSONAdapter decodes the payload into a fresh T before calling handler. Numbers decoded into
// untyped fields are json.Number, so large integers survive.
func JSONAdapter[T any](handler TypedHandlerFunc[T]) HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		msg := new(T)
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(msg); err != nil {
			return fmt.Errorf("json unmarshal failed: %w", err)
		}

		return handler(ctx, msg)
	}
}
