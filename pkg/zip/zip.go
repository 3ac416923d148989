package zip

import (
	"archive/zip"
	"bytes"
)

type Entry struct {
	Name string
	Data []byte
}

// Archive packs the entries into an in-memory zip. Entries without data are
// skipped so a partially fetched job still produces a usable archive.
func Archive(entries []Entry) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, entry := range entries {
		if len(entry.Data) == 0 {
			continue
		}
		w, err := zw.Create(entry.Name)
		if err != nil {
			continue
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil
		}
	}
	_ = zw.Close()
	return buf.Bytes()
}
