package dedupe

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/spaolacci/murmur3"

	"github.com/okian/keyguard/internal/domain/model"
)

// Fingerprint derives a stable submission id from its content, for clients
// that do not send one. Two submissions with the same identity, question and
// event stream share a fingerprint.
func Fingerprint(identity, questionID string, events []model.KeyEvent) string {
	h := murmur3.New128()
	writeString(h, identity)
	writeString(h, questionID)

	var buf [8]byte
	for _, e := range events {
		writeString(h, string(e.Type))
		writeString(h, e.Key)
		writeOptFloat(h, buf[:], e.TS)
		writeOptInt(h, buf[:], e.ClipboardLength)
		writeOptInt(h, buf[:], e.TextLen)
	}
	return "fp_" + hex.EncodeToString(h.Sum(nil))
}

type writer interface{ Write([]byte) (int, error) }

// writeString length-prefixes s so that field boundaries cannot collide.
func writeString(w writer, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	_, _ = w.Write(n[:])
	_, _ = w.Write([]byte(s))
}

func writeOptFloat(w writer, buf []byte, v *float64) {
	if v == nil {
		_, _ = w.Write([]byte{0})
		return
	}
	binary.LittleEndian.PutUint64(buf, math.Float64bits(*v))
	_, _ = w.Write([]byte{1})
	_, _ = w.Write(buf)
}

func writeOptInt(w writer, buf []byte, v *int) {
	if v == nil {
		_, _ = w.Write([]byte{0})
		return
	}
	binary.LittleEndian.PutUint64(buf, uint64(int64(*v)))
	_, _ = w.Write([]byte{1})
	_, _ = w.Write(buf)
}
