package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// nbformat 4 keeps cell sources either as one string or as a list of lines
// that each keep their trailing newline.
type multiline string

func (m *multiline) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = multiline(s)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return fmt.Errorf("source must be a string or a list of strings: %w", err)
	}
	*m = multiline(strings.Join(lines, ""))
	return nil
}

func (m multiline) MarshalJSON() ([]byte, error) {
	lines := strings.SplitAfter(string(m), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if lines == nil {
		lines = []string{}
	}
	return json.Marshal(lines)
}

type ipynbCell struct {
	ID       string    `json:"id"`
	CellType string    `json:"cell_type"`
	Source   multiline `json:"source"`
}

type ipynbMetadata struct {
	KernelSpec struct {
		Language string `json:"language"`
	} `json:"kernelspec"`
	LanguageInfo struct {
		Name string `json:"name"`
	} `json:"language_info"`
}

// ReadIPYNB decodes an nbformat 4 notebook.
func ReadIPYNB(r io.Reader, path string) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&top); err != nil {
		return nil, fmt.Errorf("decode notebook: %w", err)
	}

	var format int
	if raw, ok := top["nbformat"]; ok {
		if err := json.Unmarshal(raw, &format); err != nil {
			return nil, fmt.Errorf("decode nbformat: %w", err)
		}
	}
	if format != 4 {
		return nil, fmt.Errorf("unsupported nbformat %d", format)
	}

	var meta ipynbMetadata
	if raw, ok := top["metadata"]; ok {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	language := meta.LanguageInfo.Name
	if language == "" {
		language = meta.KernelSpec.Language
	}

	var rawCells []map[string]json.RawMessage
	if raw, ok := top["cells"]; ok {
		if err := json.Unmarshal(raw, &rawCells); err != nil {
			return nil, fmt.Errorf("decode cells: %w", err)
		}
	}

	cells := make([]*DocCell, 0, len(rawCells))
	for i, rc := range rawCells {
		fields, err := json.Marshal(rc)
		if err != nil {
			return nil, err
		}
		var c ipynbCell
		if err := json.Unmarshal(fields, &c); err != nil {
			return nil, fmt.Errorf("decode cell %d: %w", i, err)
		}
		if c.ID == "" {
			c.ID = fmt.Sprintf("cell-%d", i)
		}
		cell := NewCell(c.ID, CellType(c.CellType), string(c.Source))
		cell.raw = rc
		cells = append(cells, cell)
	}

	doc := NewDocument(path, language, cells)
	doc.meta = top
	return doc, nil
}

// WriteIPYNB encodes doc as nbformat 4, keeping fields it did not interpret.
func WriteIPYNB(w io.Writer, doc *Document) error {
	doc.mu.RLock()
	defer doc.mu.RUnlock()

	top := make(map[string]json.RawMessage, len(doc.meta)+1)
	for k, v := range doc.meta {
		top[k] = v
	}
	if _, ok := top["nbformat"]; !ok {
		top["nbformat"] = json.RawMessage("4")
		top["nbformat_minor"] = json.RawMessage("5")
	}
	if _, ok := top["metadata"]; !ok {
		top["metadata"] = json.RawMessage("{}")
	}

	cells := make([]map[string]json.RawMessage, 0, len(doc.cells))
	for _, c := range doc.cells {
		out := make(map[string]json.RawMessage, len(c.raw)+3)
		for k, v := range c.raw {
			out[k] = v
		}
		var err error
		if _, had := c.raw["id"]; had || c.raw == nil {
			if out["id"], err = json.Marshal(c.id); err != nil {
				return err
			}
		}
		if out["cell_type"], err = json.Marshal(string(c.typ)); err != nil {
			return err
		}
		if out["source"], err = json.Marshal(multiline(c.Source())); err != nil {
			return err
		}
		if _, ok := out["metadata"]; !ok {
			out["metadata"] = json.RawMessage("{}")
		}
		if c.typ == CodeCell {
			if _, ok := out["outputs"]; !ok {
				out["outputs"] = json.RawMessage("[]")
			}
			if _, ok := out["execution_count"]; !ok {
				out["execution_count"] = json.RawMessage("null")
			}
		}
		cells = append(cells, out)
	}
	raw, err := json.Marshal(cells)
	if err != nil {
		return err
	}
	top["cells"] = raw

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", " ")
	if err := enc.Encode(top); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// LoadFile reads an .ipynb file.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadIPYNB(f, path)
}

// SaveFile writes doc back to path.
func SaveFile(path string, doc *Document) error {
	var buf bytes.Buffer
	if err := WriteIPYNB(&buf, doc); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
