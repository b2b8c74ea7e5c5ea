package sqlite

import (
	"bytes"
	"database/sql/driver"
	"encoding/binary"
	"encoding/json"
	"math"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	sqlite "modernc.org/sqlite"

	"trustvoice/internal/domain"
	"trustvoice/internal/vectorstore"
)

// encodeEmbedding stores vec as little-endian IEEE 754 float32 values
// without a length prefix.
func encodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, goerr.New("invalid embedding blob length", goerr.V("length", len(b)))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

func encodeMetadata(m domain.Metadata) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode metadata")
	}
	return string(data), nil
}

// decodeMetadata restores integers as int64 and other numbers as float64.
func decodeMetadata(s string) (domain.Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, goerr.Wrap(err, "failed to decode metadata")
	}
	out := make(domain.Metadata, len(raw))
	for k, v := range raw {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				out[k] = i
				continue
			}
			f, _ := n.Float64()
			out[k] = f
			continue
		}
		out[k] = v
	}
	return out, nil
}

var registerOnce sync.Once

// registerFunctions adds vec_cosine(a, b) to every connection opened
// afterwards. It returns cosine similarity of two embedding BLOBs, 0 when
// either vector has zero magnitude.
func registerFunctions() {
	registerOnce.Do(func() {
		_ = sqlite.RegisterDeterministicScalarFunction("vec_cosine", 2, vecCosine)
	})
}

func vecCosine(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, goerr.New("vec_cosine: expected 2 arguments", goerr.V("got", len(args)))
	}
	a, ok := args[0].([]byte)
	if !ok {
		return nil, nil
	}
	b, ok := args[1].([]byte)
	if !ok {
		return nil, nil
	}
	va, err := decodeEmbedding(a)
	if err != nil {
		return nil, err
	}
	vb, err := decodeEmbedding(b)
	if err != nil {
		return nil, err
	}
	if len(va) != len(vb) {
		return nil, goerr.New("vec_cosine: dimension mismatch", goerr.V("a", len(va)), goerr.V("b", len(vb)))
	}
	return vectorstore.CosineSimilarity(va, vb), nil
}
