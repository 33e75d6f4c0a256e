// Package urlstate packs a pipeline document into a compact URL-safe string
// for shareable links, and back.
//
// An encoded state is "1." followed by the unpadded base64url form of the
// zstd-compressed JSON document. JSON object keys are emitted in sorted
// order, so equal documents always encode to equal strings.
package urlstate

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
)

const (
	// MaxStateLength is the longest state string that is put in a URL.
	MaxStateLength = 6000

	// ParamState carries an inline encoded document.
	ParamState = "state"
	// ParamFableID carries the id of a server-persisted document.
	ParamFableID = "fableId"

	version = "1."

	// maxDecodedBytes caps decompression of untrusted input.
	maxDecodedBytes = 4 << 20
)

// ErrStateTooLarge is returned by LinkFor when the document does not fit in
// a URL and has not been saved.
var ErrStateTooLarge = errors.New("url state too large")

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedBestCompression),
	)
	if err != nil {
		panic(fmt.Sprintf("urlstate: zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxDecodedBytes),
	)
	if err != nil {
		panic(fmt.Sprintf("urlstate: zstd decoder: %v", err))
	}
}

// Codec encodes documents and enforces a URL length limit.
type Codec struct {
	maxLength int
}

// NewCodec returns a codec with the given length limit. A non-positive limit
// uses MaxStateLength.
func NewCodec(maxLength int) *Codec {
	if maxLength <= 0 {
		maxLength = MaxStateLength
	}
	return &Codec{maxLength: maxLength}
}

var defaultCodec = NewCodec(MaxStateLength)

// MaxLength returns the codec limit.
func (c *Codec) MaxLength() int {
	return c.maxLength
}

// Encode returns the URL state for doc.
func (c *Codec) Encode(doc *fable.Builder) (string, error) {
	body, err := json.Marshal(doc.Clone())
	if err != nil {
		return "", fmt.Errorf("marshal fable: %w", err)
	}
	compressed := encoder.EncodeAll(body, nil)
	return version + base64.RawURLEncoding.EncodeToString(compressed), nil
}

// Decode parses a URL state. It reports false for anything malformed,
// truncated or corrupted.
func (c *Codec) Decode(s string) (*fable.Builder, bool) {
	payload, ok := strings.CutPrefix(s, version)
	if !ok || payload == "" {
		return nil, false
	}
	compressed, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	body, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false
	}

	var doc fable.Builder
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false
	}
	if doc.Blocks == nil {
		return nil, false
	}
	return doc.Clone(), true
}

// IsTooLarge reports whether s exceeds the codec limit.
func (c *Codec) IsTooLarge(s string) bool {
	return len(s) > c.maxLength
}

// Link is the query part of a shareable builder URL. Exactly one field is
// set.
type Link struct {
	State   string `json:"state,omitempty"`
	FableID string `json:"fable_id,omitempty"`
}

// Query renders the link as URL query values.
func (l Link) Query() url.Values {
	v := url.Values{}
	if l.State != "" {
		v.Set(ParamState, l.State)
	}
	if l.FableID != "" {
		v.Set(ParamFableID, l.FableID)
	}
	return v
}

// LinkFor inlines doc when it fits and falls back to the saved fableID
// otherwise. ErrStateTooLarge is returned when it does not fit and fableID
// is empty.
func (c *Codec) LinkFor(doc *fable.Builder, fableID string) (Link, error) {
	encoded, err := c.Encode(doc)
	if err != nil {
		return Link{}, err
	}
	if !c.IsTooLarge(encoded) {
		return Link{State: encoded}, nil
	}
	if fableID == "" {
		return Link{}, fmt.Errorf("%w: %d > %d", ErrStateTooLarge, len(encoded), c.maxLength)
	}
	return Link{FableID: fableID}, nil
}

// ParseQuery reads a builder URL query. A decodable state wins over a
// fableId; a malformed state is ignored.
func (c *Codec) ParseQuery(v url.Values) (doc *fable.Builder, fableID string) {
	if s := v.Get(ParamState); s != "" {
		if d, ok := c.Decode(s); ok {
			return d, ""
		}
	}
	return nil, v.Get(ParamFableID)
}

// Encode encodes doc with the default codec.
func Encode(doc *fable.Builder) (string, error) {
	return defaultCodec.Encode(doc)
}

// Decode decodes s with the default codec.
func Decode(s string) (*fable.Builder, bool) {
	return defaultCodec.Decode(s)
}

// IsStateTooLarge reports whether s is longer than MaxStateLength.
func IsStateTooLarge(s string) bool {
	return defaultCodec.IsTooLarge(s)
}
