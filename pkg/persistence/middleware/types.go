package middleware

import "github.com/aretw0/gridsession/pkg/codec"

// Middleware allows wrapping a Codec to add behavior to attribute serialization.
type Middleware func(codec.Codec) codec.Codec

// Chain wraps c with mws. The first middleware is the outermost.
func Chain(c codec.Codec, mws ...Middleware) codec.Codec {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}
