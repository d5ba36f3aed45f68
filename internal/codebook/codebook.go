// Package codebook maps single-letter categorical survey codes to integers.
//
// A Codebook is an explicit, versioned list of columns with their alphabets.
// The letter at alphabet position i encodes to i. The same Codebook value is
// used for training and inference; its Fingerprint is stored with every model
// so a mismatched table encoding is detected at prediction time.
package codebook

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cespare/xxhash/v2"
	"github.com/paveg/damagegrade/internal/dataframe"
	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/series"
	"gopkg.in/yaml.v3"
)

// DefaultVersion identifies the built-in codebook.
const DefaultVersion = "2019.1"

// ErrAlreadyEncoded is returned when a codebook column is already integer typed.
var ErrAlreadyEncoded = &dgerrors.PipelineError{
	Kind:    dgerrors.KindEncoding,
	Op:      "Encode",
	Message: "column is already encoded",
}

// Column is one categorical column and its ordered alphabet.
type Column struct {
	Name     string   `json:"name" yaml:"name"`
	Alphabet []string `json:"alphabet" yaml:"alphabet"`
}

// Codebook is the encoding table applied to categorical columns.
type Codebook struct {
	Version string   `json:"version" yaml:"version"`
	Columns []Column `json:"columns" yaml:"columns"`

	index map[string]map[string]int64
}

// Default returns the codebook for the building survey categoricals.
func Default() *Codebook {
	cb := &Codebook{
		Version: DefaultVersion,
		Columns: []Column{
			{Name: "land_surface_condition", Alphabet: letters("not")},
			{Name: "foundation_type", Alphabet: letters("hiruw")},
			{Name: "roof_type", Alphabet: letters("nqx")},
			{Name: "ground_floor_type", Alphabet: letters("fmvxz")},
			{Name: "other_floor_type", Alphabet: letters("jqsx")},
			{Name: "position", Alphabet: letters("jost")},
			{Name: "plan_configuration", Alphabet: letters("acdfmnoqsu")},
			{Name: "legal_ownership_status", Alphabet: letters("arvw")},
		},
	}
	cb.buildIndex()
	return cb
}

func letters(s string) []string {
	return strings.Split(s, "")
}

// Load reads a codebook from a .yaml, .yml or .json file and validates it.
func Load(path string) (*Codebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dgerrors.NewInputError("LoadCodebook", fmt.Sprintf("reading %s", path), err)
	}

	var cb Codebook
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cb)
	case ".json":
		err = json.Unmarshal(data, &cb)
	default:
		return nil, dgerrors.NewConfigError("LoadCodebook", fmt.Sprintf("unsupported codebook format: %s", path))
	}
	if err != nil {
		return nil, dgerrors.NewInputError("LoadCodebook", fmt.Sprintf("parsing %s", path), err)
	}

	if err := cb.Validate(); err != nil {
		return nil, err
	}
	return &cb, nil
}

// Validate checks that every column has a non-empty alphabet of distinct
// codes and that no column is listed twice.
func (cb *Codebook) Validate() error {
	if len(cb.Columns) == 0 {
		return dgerrors.NewConfigError("ValidateCodebook", "codebook has no columns")
	}
	seen := make(map[string]bool, len(cb.Columns))
	for _, col := range cb.Columns {
		if col.Name == "" {
			return dgerrors.NewConfigError("ValidateCodebook", "column name is empty")
		}
		if seen[col.Name] {
			return dgerrors.NewConfigError("ValidateCodebook", fmt.Sprintf("column %q listed twice", col.Name))
		}
		seen[col.Name] = true

		if len(col.Alphabet) == 0 {
			return dgerrors.NewConfigError("ValidateCodebook", fmt.Sprintf("column %q has an empty alphabet", col.Name))
		}
		letters := make(map[string]bool, len(col.Alphabet))
		for _, letter := range col.Alphabet {
			if letter == "" {
				return dgerrors.NewConfigError("ValidateCodebook", fmt.Sprintf("column %q has an empty code", col.Name))
			}
			if letters[letter] {
				return dgerrors.NewConfigError("ValidateCodebook",
					fmt.Sprintf("column %q lists code %q twice", col.Name, letter))
			}
			letters[letter] = true
		}
	}
	cb.buildIndex()
	return nil
}

func (cb *Codebook) buildIndex() {
	cb.index = make(map[string]map[string]int64, len(cb.Columns))
	for _, col := range cb.Columns {
		codes := make(map[string]int64, len(col.Alphabet))
		for i, letter := range col.Alphabet {
			codes[letter] = int64(i)
		}
		cb.index[col.Name] = codes
	}
}

func (cb *Codebook) lookupTable() map[string]map[string]int64 {
	if cb.index == nil {
		cb.buildIndex()
	}
	return cb.index
}

// Names returns the categorical column names in codebook order.
func (cb *Codebook) Names() []string {
	names := make([]string, len(cb.Columns))
	for i, col := range cb.Columns {
		names[i] = col.Name
	}
	return names
}

// Lookup returns the code for a letter in the named column.
func (cb *Codebook) Lookup(column, letter string) (int64, bool) {
	codes, ok := cb.lookupTable()[column]
	if !ok {
		return 0, false
	}
	code, ok := codes[letter]
	return code, ok
}

// Decode returns the letter for a code in the named column.
func (cb *Codebook) Decode(column string, code int64) (string, bool) {
	for _, col := range cb.Columns {
		if col.Name != column {
			continue
		}
		if code < 0 || code >= int64(len(col.Alphabet)) {
			return "", false
		}
		return col.Alphabet[code], true
	}
	return "", false
}

// Fingerprint hashes the version, column order and alphabets.
func (cb *Codebook) Fingerprint() uint64 {
	h := xxhash.New()
	var sep [8]byte
	write := func(s string) {
		binary.LittleEndian.PutUint64(sep[:], uint64(len(s)))
		_, _ = h.Write(sep[:])
		_, _ = h.WriteString(s)
	}
	write(cb.Version)
	for _, col := range cb.Columns {
		write(col.Name)
		for _, letter := range col.Alphabet {
			write(letter)
		}
	}
	return h.Sum64()
}

// Encode replaces every codebook column of df with an int64 column of codes,
// keeping column positions. It fails without modifying df when a column is
// missing, already encoded, or holds a code outside its alphabet.
func (cb *Codebook) Encode(df *dataframe.DataFrame) (*dataframe.DataFrame, error) {
	return cb.EncodeWith(df, memory.NewGoAllocator())
}

// EncodeWith is Encode using the given allocator for the new columns.
func (cb *Codebook) EncodeWith(df *dataframe.DataFrame, mem memory.Allocator) (*dataframe.DataFrame, error) {
	table := cb.lookupTable()
	encoded := make([]dataframe.ISeries, 0, len(cb.Columns))
	release := func() {
		for _, s := range encoded {
			s.Release()
		}
	}

	for _, col := range cb.Columns {
		s, ok := df.Column(col.Name)
		if !ok {
			release()
			return nil, dgerrors.NewColumnNotFoundError("Encode", col.Name)
		}

		arr := s.Array()
		strs, isString := arr.(*array.String)
		if !isString {
			typ := arr.DataType().ID()
			arr.Release()
			release()
			if typ == arrow.INT64 {
				e := *ErrAlreadyEncoded
				e.Column = col.Name
				return nil, &e
			}
			return nil, dgerrors.NewValidationError("Encode", col.Name,
				fmt.Sprintf("expected single-letter codes, got %s", s.DataType()))
		}

		codes := make([]int64, strs.Len())
		for i := 0; i < strs.Len(); i++ {
			letter := strs.Value(i)
			code, known := table[col.Name][letter]
			if !known {
				arr.Release()
				release()
				return nil, dgerrors.NewEncodingError("Encode", col.Name, i, letter)
			}
			codes[i] = code
		}
		arr.Release()

		out, err := series.NewSafe(col.Name, codes, mem)
		if err != nil {
			release()
			return nil, err
		}
		encoded = append(encoded, out)
	}

	for _, s := range encoded {
		if err := df.WithColumn(s); err != nil {
			return nil, err
		}
	}
	return df, nil
}
