package sensor

import (
	stderrors "errors"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"github.com/msjae/bioingest/errors"
)

// utf8Decoder validates a byte stream chunk by chunk. A multi-byte character
// split across two reads is held back and completed by the next chunk.
type utf8Decoder struct {
	validator transform.Transformer
	carry     []byte
	src       []byte
	dst       []byte
}

func newUTF8Decoder() *utf8Decoder {
	return &utf8Decoder{validator: encoding.UTF8Validator}
}

// decode returns the valid text in chunk. On an invalid sequence it returns
// ErrInvalidEncoding and forgets any carried bytes.
func (d *utf8Decoder) decode(chunk []byte) (string, error) {
	d.src = append(append(d.src[:0], d.carry...), chunk...)
	d.carry = d.carry[:0]
	if cap(d.dst) < len(d.src) {
		d.dst = make([]byte, len(d.src))
	}
	dst := d.dst[:len(d.src)]

	nDst, nSrc, err := d.validator.Transform(dst, d.src, false)
	switch {
	case err == nil:
	case stderrors.Is(err, transform.ErrShortSrc) && len(d.src)-nSrc < 4:
		d.carry = append(d.carry, d.src[nSrc:]...)
	default:
		return "", errors.WrapInvalid(errors.ErrInvalidEncoding, "Worker", "decode", "validate utf-8")
	}
	return string(dst[:nDst]), nil
}

// pending reports how many bytes are held back.
func (d *utf8Decoder) pending() int {
	return len(d.carry)
}

func (d *utf8Decoder) reset() {
	d.carry = d.carry[:0]
}
