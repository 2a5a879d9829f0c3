// ABOUTME: Snapshot compression codecs with a one-byte header identifying the codec
// ABOUTME: Supports zstd (klauspost/compress), lz4 frames (pierrec/lz4) and uncompressed

package durability

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/2389/coven-dataengine/internal/config"
)

// ErrUnknownCodec is returned when a stored blob has an unrecognized header
var ErrUnknownCodec = errors.New("unknown snapshot codec")

// Codec identifies how a stored snapshot is compressed
type Codec uint8

const (
	CodecNone Codec = 0
	CodecZstd Codec = 1
	CodecLZ4  Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return config.CompressionNone
	case CodecZstd:
		return config.CompressionZstd
	case CodecLZ4:
		return config.CompressionLZ4
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec maps a configured compression name to a Codec.
// An empty name selects zstd.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case config.CompressionZstd, "":
		return CodecZstd, nil
	case config.CompressionLZ4:
		return CodecLZ4, nil
	case config.CompressionNone:
		return CodecNone, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Encode compresses data and prefixes the codec header
func Encode(c Codec, data []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		out := make([]byte, 0, 1+len(data))
		out = append(out, byte(CodecNone))
		return append(out, data...), nil

	case CodecZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, []byte{byte(CodecZstd)}), nil

	case CodecLZ4:
		var buf bytes.Buffer
		buf.WriteByte(byte(CodecLZ4))
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, uint8(c))
	}
}

// Decode reverses Encode, dispatching on the header byte
func Decode(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrUnknownCodec)
	}
	body := blob[1:]

	switch Codec(blob[0]) {
	case CodecNone:
		return bytes.Clone(body), nil

	case CodecZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil

	case CodecLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: header %d", ErrUnknownCodec, blob[0])
	}
}
