package domain

import "github.com/m-mizutani/goerr/v2"

// Error kinds shared by every pipeline stage. Wrap them with goerr.Wrap and
// test with errors.Is.
var (
	ErrModelUnavailable = goerr.New("model unavailable")
	ErrIndexUnavailable = goerr.New("index unavailable")
	ErrDuplicateID      = goerr.New("duplicate id")
	ErrInvalidRequest   = goerr.New("invalid request")
	ErrModelMismatch    = goerr.New("embedding model mismatch")
)

// Keys for goerr values
const (
	KeyCollection = "collection"
	KeyID         = "id"
	KeyDimension  = "dimension"
	KeyModel      = "model"
	KeyTopK       = "top_k"
	KeyPath       = "path"
)
