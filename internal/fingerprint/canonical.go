package fingerprint

import (
	"bytes"
	"encoding/json"
)

// canonicalJSON renders obj as canonical JSON: keys sorted ascending, no
// insignificant whitespace, UTF-8, arrays preserving supplied order.
//
// encoding/json writes struct fields in declaration order, so obj is first
// marshaled, decoded back into generic maps and slices (numbers kept as
// json.Number so their text is unchanged), and encoded again: encoding/json
// writes map[string]any keys sorted lexicographically and without
// inserting whitespace. HTML-escaping is disabled so bytes match across
// encoders that don't escape '<', '>', '&'.
func canonicalJSON(obj any) ([]byte, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	// Encode appends a trailing newline, which is not part of the canonical form.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
