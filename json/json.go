// Package json is the JSON codec used for trigger payloads and ops responses.
// It is jsoniter in standard-library compatible mode; every decode applies
// `default` struct tags before the document is read so missing fields keep
// their declared defaults.
package json

import (
	"bytes"
	"io"

	"github.com/creasty/defaults"
	jsoniter "github.com/json-iterator/go"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

type Encoder struct {
	*jsoniter.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{Encoder: api.NewEncoder(w)}
}

type Decoder struct {
	*jsoniter.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{Decoder: api.NewDecoder(r)}
}

// Decode fills defaults on v and then decodes the next value onto it.
func (d *Decoder) Decode(v any) error {
	if err := defaults.Set(v); err != nil {
		return err
	}
	return d.Decoder.Decode(v)
}

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	if err := defaults.Set(v); err != nil {
		return err
	}
	return api.Unmarshal(data, v)
}

// UnmarshalStrict is Unmarshal that rejects fields v does not declare.
func UnmarshalStrict(data []byte, v any) error {
	if err := defaults.Set(v); err != nil {
		return err
	}
	dec := api.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
