package embedding

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"os"
	"path/filepath"
)

// cachedEmbedder wraps an Embedder with a content-addressed vector cache
// on disk, so re-indexing an unchanged chunk never re-embeds it. Cache
// files are keyed by the embedder's Name plus the text's SHA-256, so
// switching models never serves stale vectors.
type cachedEmbedder struct {
	inner Embedder
	dir   string
}

// NewCached wraps inner with a disk cache under dir. A nil inner returns
// nil so callers can pass through an unconfigured embedder unchanged.
func NewCached(inner Embedder, dir string) Embedder {
	if inner == nil {
		return nil
	}
	return &cachedEmbedder{inner: inner, dir: dir}
}

func (c *cachedEmbedder) Dims() int    { return c.inner.Dims() }
func (c *cachedEmbedder) Name() string { return c.inner.Name() }

func (c *cachedEmbedder) Embed(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingAt []int
	for i, t := range texts {
		if v, ok := c.load(t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		out[missingAt[j]] = v
		c.store(missing[j], v)
	}
	return out, nil
}

func (c *cachedEmbedder) path(text string) string {
	sum := sha256.Sum256([]byte(c.inner.Name() + "\x00" + text))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".vec")
}

func (c *cachedEmbedder) load(text string) ([]float32, bool) {
	b, err := os.ReadFile(c.path(text))
	if err != nil || len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	v := BytesAsVec(b)
	if len(v) != c.inner.Dims() {
		return nil, false // stale entry from a different model/dims
	}
	return v, true
}

func (c *cachedEmbedder) store(text string, v []float32) {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return
	}
	// Best-effort: a failed cache write just means re-embedding later.
	_ = os.WriteFile(c.path(text), VecAsBytes(v), 0o600)
}

// VecAsBytes converts a float32 vector to a raw little-endian byte blob.
func VecAsBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// BytesAsVec is the inverse of VecAsBytes.
func BytesAsVec(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
