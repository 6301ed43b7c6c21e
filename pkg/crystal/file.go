package crystal

import (
	"os"
	"path/filepath"
	"strings"
)

// ReadFile loads a structure from a .json document or, for any other name,
// a POSCAR file.
func ReadFile(path string) (*Structure, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return FromJSON(data)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParsePOSCAR(f)
}
