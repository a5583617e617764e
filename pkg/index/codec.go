package index

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
)

var blobMagic = [4]byte{'M', 'N', 'I', 'X'}

const blobVersion uint16 = 1

type blobHeader struct {
	Magic   [4]byte
	Version uint16
	Dim     uint32
	Count   uint32
}

// MarshalBinary encodes the index as: header, then for each row a length prefixed ID
// followed by dim little endian float32 values.
func (x *Flat) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	hdr := blobHeader{
		Magic:   blobMagic,
		Version: blobVersion,
		Dim:     uint32(x.dim),
		Count:   uint32(len(x.ids)),
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, goerr.Wrap(err, "failed to write index header")
	}

	for i, id := range x.ids {
		if len(id) > math.MaxUint16 {
			return nil, goerr.New("memory ID too long for index blob", goerr.V("id", id))
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint16(len(id))); err != nil {
			return nil, goerr.Wrap(err, "failed to write row ID length")
		}
		buf.WriteString(string(id))
		if err := binary.Write(&buf, binary.LittleEndian, x.row(i)); err != nil {
			return nil, goerr.Wrap(err, "failed to write row vector", goerr.V("id", id))
		}
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the index content with a blob produced by MarshalBinary
func (x *Flat) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	var hdr blobHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return goerr.Wrap(err, "failed to read index header", goerr.T(model.ErrTagPersistence))
	}
	if hdr.Magic != blobMagic {
		return goerr.New("invalid index blob magic", goerr.V("magic", string(hdr.Magic[:])), goerr.T(model.ErrTagPersistence))
	}
	if hdr.Version != blobVersion {
		return goerr.New("unsupported index blob version", goerr.V("version", hdr.Version), goerr.T(model.ErrTagPersistence))
	}
	rowSize := 2 + int(hdr.Dim)*4
	if hdr.Count > 0 && (hdr.Dim == 0 || int64(r.Len()) < int64(hdr.Count)*int64(rowSize)) {
		return goerr.New("truncated index blob",
			goerr.V("dim", hdr.Dim),
			goerr.V("count", hdr.Count),
			goerr.T(model.ErrTagPersistence))
	}

	next := NewFlat(int(hdr.Dim))
	vec := make([]float32, hdr.Dim)
	for i := uint32(0); i < hdr.Count; i++ {
		var idLen uint16
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return goerr.Wrap(err, "failed to read row ID length", goerr.V("row", i), goerr.T(model.ErrTagPersistence))
		}
		id := make([]byte, idLen)
		if _, err := io.ReadFull(r, id); err != nil {
			return goerr.Wrap(err, "failed to read row ID", goerr.V("row", i), goerr.T(model.ErrTagPersistence))
		}
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return goerr.Wrap(err, "failed to read row vector", goerr.V("row", i), goerr.T(model.ErrTagPersistence))
		}
		if err := next.Append(model.MemoryID(id), vec); err != nil {
			return goerr.Wrap(err, "invalid index row", goerr.V("row", i), goerr.T(model.ErrTagPersistence))
		}
	}
	if r.Len() != 0 {
		return goerr.New("trailing bytes in index blob", goerr.V("remaining", r.Len()), goerr.T(model.ErrTagPersistence))
	}

	*x = *next
	return nil
}
