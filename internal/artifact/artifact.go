// Package artifact persists a fitted model together with what is needed to
// use it safely: the feature columns it was trained on and the fingerprint
// of the codebook that encoded them.
//
// On disk an artifact is a magic header and format version followed by a
// zstd-compressed gob stream. Writes go to a temporary file that is renamed
// into place.
package artifact

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/paveg/damagegrade/internal/codebook"
	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/forest"
)

// FormatVersion is bumped whenever the encoded layout changes.
const FormatVersion uint16 = 1

// Extension is the conventional artifact file extension.
const Extension = ".dgm"

var magic = [8]byte{'D', 'G', 'M', 'O', 'D', 'E', 'L', 0}

// Artifact is a fitted model with its training metadata.
type Artifact struct {
	// Features are the model's input columns in training order.
	Features []string
	// Candidates are the feature columns before selection; Mask marks the
	// ones in Features.
	Candidates []string
	Mask       []bool

	CodebookVersion     string
	CodebookFingerprint uint64

	Model     *forest.Forest
	HoldoutF1 float64
	CreatedAt time.Time
	Build     string
}

// New wraps a fitted model, stamping it with the codebook identity.
func New(model *forest.Forest, features []string, cb *codebook.Codebook) *Artifact {
	return &Artifact{
		Features:            append([]string(nil), features...),
		CodebookVersion:     cb.Version,
		CodebookFingerprint: cb.Fingerprint(),
		Model:               model,
		CreatedAt:           time.Now().UTC(),
	}
}

// CheckCodebook fails when cb differs from the codebook used in training.
func (a *Artifact) CheckCodebook(cb *codebook.Codebook) error {
	if fp := cb.Fingerprint(); fp != a.CodebookFingerprint {
		return dgerrors.NewSchemaError("CheckCodebook",
			fmt.Sprintf("codebook %q (%016x) does not match the model's codebook %q (%016x)",
				cb.Version, fp, a.CodebookVersion, a.CodebookFingerprint)).
			WithHint("predict with the codebook the model was trained with")
	}
	return nil
}

func (a *Artifact) validate() error {
	if a.Model == nil || !a.Model.Fitted() {
		return dgerrors.NewInternalError("Artifact", fmt.Errorf("model is not fitted"))
	}
	if len(a.Features) != a.Model.NumFeatures() {
		return dgerrors.NewSchemaError("Artifact",
			fmt.Sprintf("%d feature names for a model with %d features", len(a.Features), a.Model.NumFeatures()))
	}
	return nil
}

// Write encodes a to w.
func Write(w io.Writer, a *Artifact) error {
	if err := a.validate(); err != nil {
		return err
	}
	if _, err := w.Write(magic[:]); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, FormatVersion); err != nil {
		return fmt.Errorf("writing version: %w", err)
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(a); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encoding artifact: %w", err)
	}
	return zw.Close()
}

// Read decodes an artifact from r.
func Read(r io.Reader) (*Artifact, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, dgerrors.NewInputError("ReadArtifact", "reading header", err)
	}
	if !bytes.Equal(header[:], magic[:]) {
		return nil, dgerrors.NewInputError("ReadArtifact", "not a model artifact", nil)
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, dgerrors.NewInputError("ReadArtifact", "reading version", err)
	}
	if version != FormatVersion {
		return nil, dgerrors.NewInputError("ReadArtifact",
			fmt.Sprintf("artifact format %d, expected %d", version, FormatVersion), nil).
			WithHint("retrain the model with this build")
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, dgerrors.NewInputError("ReadArtifact", "opening compressed payload", err)
	}
	defer zr.Close()

	var a Artifact
	if err := gob.NewDecoder(zr).Decode(&a); err != nil {
		return nil, dgerrors.NewInputError("ReadArtifact", "decoding payload", err)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Save writes a to path atomically, creating parent directories.
func Save(path string, a *Artifact) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dgerrors.NewInputError("SaveArtifact", fmt.Sprintf("creating %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return dgerrors.NewInputError("SaveArtifact", "creating temp file", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := Write(tmp, a); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming to %s: %w", path, err)
	}
	return nil
}

// Load reads the artifact at path.
func Load(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dgerrors.NewInputError("LoadArtifact", fmt.Sprintf("opening %s", path), err)
	}
	defer f.Close()

	a, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return a, nil
}
