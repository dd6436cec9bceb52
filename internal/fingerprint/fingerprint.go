// Package fingerprint derives stable, content-addressed cache keys from
// (PDF bytes, label, schema), the way the original pipeline's cache_key
// module combines an xxhash of the document with the label and a canonical
// serialisation of the schema.
package fingerprint

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/adverant/pdfextract/internal/model"
)

// Of computes the 128-bit (rendered as a 32-hex-character string) content
// key for a request. The same bytes+label+schema always yield the same
// key; reordering schema keys never changes it.
func Of(pdfBytes []byte, label string, schema model.Schema) model.CacheKey {
	docHash := xxhash.Sum64(pdfBytes)
	schemaHash := hashSchema(schema)

	h := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], docHash)
	h.Write(buf[:])
	h.Write([]byte(label))
	binary.LittleEndian.PutUint64(buf[:], schemaHash)
	h.Write(buf[:])
	lo := h.Sum64()

	// A second pass, seeded with the first, gives us a full 128 bits of
	// key space without pulling in a dedicated 128-bit hash library.
	h2 := xxhash.New()
	binary.LittleEndian.PutUint64(buf[:], lo)
	h2.Write(buf[:])
	h2.Write([]byte(label))
	hi := h2.Sum64()

	return model.CacheKey(fmt.Sprintf("%016x%016x", hi, lo))
}

// hashSchema hashes the schema's canonical form: keys sorted, whitespace
// stripped from descriptions, joined deterministically.
func hashSchema(schema model.Schema) uint64 {
	names := append([]string(nil), schema.Names()...)
	sort.Strings(names)

	byName := make(map[string]string, len(schema.Fields))
	for _, f := range schema.Fields {
		byName[f.Name] = strings.Join(strings.Fields(f.Description), " ")
	}

	var sb strings.Builder
	for _, n := range names {
		sb.WriteString(n)
		sb.WriteByte(0)
		sb.WriteString(byName[n])
		sb.WriteByte(0)
	}
	return xxhash.Sum64String(sb.String())
}

// PDFKey derives the coarser (pdf_hash, label) key used to scope
// invalidation across every schema variant seen for a document.
func PDFKey(pdfBytes []byte, label string) string {
	return fmt.Sprintf("%016x:%s", xxhash.Sum64(pdfBytes), label)
}

// PDFHash returns just the content hash of the PDF bytes, used as the
// prefix InvalidatePDF matches against.
func PDFHash(pdfBytes []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(pdfBytes))
}
