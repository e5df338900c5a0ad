package index

import (
	"encoding/gob"
	"fmt"
	"io"
)

// indexFile is the on-disk representation. The header fields are redundant
// with the record payload on purpose: a restore cross-checks them so a
// truncated or tampered file is rejected instead of serving wrong results.
type indexFile struct {
	DocumentID string
	Dimension  int
	Count      int
	Records    []Record
}

// Encode serializes the index so a session survives a process restart.
func (idx *Index) Encode(w io.Writer) error {
	file := indexFile{
		DocumentID: idx.documentID,
		Dimension:  idx.dimension,
		Count:      len(idx.records),
		Records:    idx.records,
	}
	if err := gob.NewEncoder(w).Encode(&file); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	return nil
}

// Decode restores a serialized index, rejecting it with ErrCorrupt when the
// stored metadata is inconsistent with the records.
func Decode(r io.Reader) (*Index, error) {
	var file indexFile
	if err := gob.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if file.Count != len(file.Records) {
		return nil, fmt.Errorf("%w: header declares %d records, found %d",
			ErrCorrupt, file.Count, len(file.Records))
	}
	if file.Count == 0 || file.Dimension <= 0 {
		return nil, fmt.Errorf("%w: empty index or invalid dimension %d", ErrCorrupt, file.Dimension)
	}
	for i, rec := range file.Records {
		if len(rec.Vector) != file.Dimension {
			return nil, fmt.Errorf("%w: record %d has dimension %d, header declares %d",
				ErrCorrupt, i, len(rec.Vector), file.Dimension)
		}
	}

	return &Index{
		documentID: file.DocumentID,
		dimension:  file.Dimension,
		records:    file.Records,
	}, nil
}
