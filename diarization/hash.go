package diarization

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// hashEmbedding digests a raw embedding with an installation salt so
// the persisted form can't be reversed or matched across installs by
// an attacker who only has the hash. The raw float32 slice is never
// written to disk by this package; only the returned hex digest is.
func hashEmbedding(embedding []float32, salt []byte) string {
	h := sha256.New()
	h.Write(salt)
	buf := make([]byte, 4)
	for _, f := range embedding {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}
