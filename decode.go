package xpush

import (
	"context"
)

// DecodeArgs converts request args into T using the Codec found in ctx,
// falling back to JSON.
func DecodeArgs[T any](ctx context.Context, req *Request) (T, error) {
	c, ok := CodecFromContext(ctx)
	if !ok {
		c = JSONCodec{}
	}
	return DecodeArgsCodec[T](c, req)
}

// DecodeArgsCodec converts request args into T with the provided codec.
func DecodeArgsCodec[T any](c Codec, req *Request) (T, error) {
	var v T
	if req == nil {
		return v, nil
	}
	data, err := c.Marshal(req.Args)
	if err != nil {
		return v, invalidField("request.args", err)
	}
	if err := c.Unmarshal(data, &v); err != nil {
		return v, invalidField("request.args", err)
	}
	return v, nil
}
