package persistence

import (
	"encoding/json"
	"fmt"
	"os"
)

// WriteJSONAtomic marshals v and writes it atomically, following the same
// temp-file-then-rename protocol as Document.Save. Used by the
// notification queue's disk-backed outage buffer.
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return atomicWrite(path, data)
}

// ReadJSON unmarshals path into v. A missing file is not an error; v is
// left untouched so the caller's zero value stands.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}
