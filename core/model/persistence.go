package model

import (
	"bufio"
	"encoding/gob"
	"io"
	"os"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec は保存時の圧縮形式。ファイル先頭の1バイトに記録される。
type Codec byte

const (
	// CodecNone は無圧縮のgob
	CodecNone Codec = iota
	// CodecZstd はzstd圧縮したgob
	CodecZstd
	// CodecLZ4 はlz4フレーム圧縮したgob
	CodecLZ4
)

// String はコーデック名を返す
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// ParseCodec はコーデック名を解析する
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	}
	return CodecNone, errors.NewValidationError("codec", "must be one of none, zstd, lz4", name)
}

type saveConfig struct {
	codec Codec
}

// SaveOption は保存時のオプション
type SaveOption func(*saveConfig)

// WithCodec は圧縮形式を指定する（デフォルトは CodecNone）
func WithCodec(c Codec) SaveOption {
	return func(cfg *saveConfig) {
		cfg.codec = c
	}
}

// SaveModel はモデルをファイルに保存する
//
// 使用例:
//
//	w, _ := hmm.ExportWeights()
//	err := model.SaveModel(w, "model.gob.zst", model.WithCodec(model.CodecZstd))
func SaveModel(model interface{}, filename string, opts ...SaveOption) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to close file")
		}
	}()

	return SaveModelToWriter(model, file, opts...)
}

// LoadModel はファイルからモデルを読み込む。圧縮形式はヘッダから判定する。
func LoadModel(model interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	return LoadModelFromReader(model, bufio.NewReader(file))
}

// SaveModelToWriter はモデルをio.Writerに保存する
func SaveModelToWriter(model interface{}, w io.Writer, opts ...SaveOption) error {
	cfg := saveConfig{codec: CodecNone}
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, err := w.Write([]byte{byte(cfg.codec)}); err != nil {
		return errors.Wrap(err, "failed to write codec header")
	}

	switch cfg.codec {
	case CodecNone:
		return encode(model, w)
	case CodecZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return errors.Wrap(err, "failed to create zstd encoder")
		}
		if err := encode(model, enc); err != nil {
			_ = enc.Close()
			return err
		}
		return errors.Wrap(enc.Close(), "failed to flush zstd stream")
	case CodecLZ4:
		enc := lz4.NewWriter(w)
		if err := encode(model, enc); err != nil {
			_ = enc.Close()
			return err
		}
		return errors.Wrap(enc.Close(), "failed to flush lz4 stream")
	default:
		return errors.NewValidationError("codec", "unknown codec", int(cfg.codec))
	}
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(model interface{}, r io.Reader) error {
	var header [1]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return errors.Wrap(err, "failed to read codec header")
	}

	switch Codec(header[0]) {
	case CodecNone:
		return decode(model, r)
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return errors.Wrap(err, "failed to create zstd decoder")
		}
		defer dec.Close()
		return decode(model, dec)
	case CodecLZ4:
		return decode(model, lz4.NewReader(r))
	default:
		return errors.NewValidationError("codec", "unknown codec header", int(header[0]))
	}
}

func encode(model interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(model); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

func decode(model interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(model); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
