package domain

import "github.com/aretw0/gridsession/pkg/codec"

// AttributeValue holds an attribute in its stored form.
// The decoded object is cached after the first read, so repeated reads of the
// same attribute do not hit the codec again.
type AttributeValue struct {
	raw     []byte
	object  any
	decoded bool
}

// NewAttributeValue wraps bytes read from the store.
func NewAttributeValue(raw []byte) *AttributeValue {
	if raw == nil {
		return nil
	}
	return &AttributeValue{raw: raw}
}

// EncodeAttributeValue serializes v with c and keeps v as the cached object.
func EncodeAttributeValue(c codec.Codec, v any) (*AttributeValue, error) {
	raw, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &AttributeValue{raw: raw, object: v, decoded: true}, nil
}

// StringValue returns a value that is never serialized.
// It is used for the attributes mirroring the principal name, which the stores
// keep in a dedicated field.
func StringValue(s string) *AttributeValue {
	return &AttributeValue{object: s, decoded: true}
}

// Raw returns the serialized form. It is nil for values built with StringValue.
func (v *AttributeValue) Raw() []byte {
	return v.raw
}

// Cached returns the decoded object if it has already been decoded.
func (v *AttributeValue) Cached() (any, bool) {
	return v.object, v.decoded
}

// Object decodes the value into an untyped object and caches it.
func (v *AttributeValue) Object(c codec.Codec) (any, error) {
	if v.decoded {
		return v.object, nil
	}
	var obj any
	if err := c.Unmarshal(v.raw, &obj); err != nil {
		return nil, err
	}
	v.object = obj
	v.decoded = true
	return obj, nil
}

// Decode unmarshals the stored bytes into target.
// It does not touch the cache, since target's type is chosen by the caller.
func (v *AttributeValue) Decode(c codec.Codec, target any) error {
	return c.Unmarshal(v.raw, target)
}
