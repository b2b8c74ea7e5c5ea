package sqlite

import (
	"database/sql/driver"
	"testing"

	"github.com/m-mizutani/gt"

	"trustvoice/internal/domain"
)

func TestEmbeddingBlobLayout(t *testing.T) {
	b := encodeEmbedding([]float32{1, -2.5})
	gt.Array(t, b).Length(8)
	// 1.0 is 0x3f800000 little-endian
	gt.Value(t, b[:4]).Equal([]byte{0x00, 0x00, 0x80, 0x3f})

	v, err := decodeEmbedding(b)
	gt.NoError(t, err).Required()
	gt.Value(t, v).Equal([]float32{1, -2.5})

	_, err = decodeEmbedding([]byte{1, 2, 3})
	gt.Error(t, err)
}

func TestDecodeMetadataNumbers(t *testing.T) {
	s, err := encodeMetadata(domain.Metadata{"n": 3, "f": 1.5, "s": "x", "b": true})
	gt.NoError(t, err).Required()

	m, err := decodeMetadata(s)
	gt.NoError(t, err).Required()
	gt.Value(t, m["n"]).Equal(int64(3))
	gt.Value(t, m["f"]).Equal(1.5)
	gt.Value(t, m["s"]).Equal("x")
	gt.Value(t, m["b"]).Equal(true)
}

func TestVecCosine(t *testing.T) {
	a := encodeEmbedding([]float32{1, 0})
	zero := encodeEmbedding([]float32{0, 0})

	v, err := vecCosine(nil, []driver.Value{a, a})
	gt.NoError(t, err).Required()
	gt.Value(t, v).Equal(driver.Value(1.0))

	v, err = vecCosine(nil, []driver.Value{a, zero})
	gt.NoError(t, err).Required()
	gt.Value(t, v).Equal(driver.Value(0.0))

	_, err = vecCosine(nil, []driver.Value{a, encodeEmbedding([]float32{1, 0, 0})})
	gt.Error(t, err)
}
