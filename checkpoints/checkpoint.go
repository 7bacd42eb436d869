package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/x448/float16"

	"github.com/tsawler/symalign/encoder"
	"github.com/tsawler/symalign/layers"
	"github.com/tsawler/symalign/training"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatCBOR
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatCBOR:
		return "CBOR"
	default:
		return "Unknown"
	}
}

// Checkpoint represents a complete alignment state: encoder architecture,
// learned weights, running priors, and training metadata. The frozen mask
// encoder is injected at construction time and is never part of a
// checkpoint.
type Checkpoint struct {
	// Encoder architecture and weights
	EncoderConfig encoder.MultiModalConfig `json:"encoder_config"`
	ImageSpec     *layers.ModelSpec        `json:"image_spec,omitempty"`
	Weights       []WeightTensor           `json:"weights"`

	// Alignment state
	AlignmentConfig training.AlignmentConfig `json:"alignment_config"`
	Priors          PriorState               `json:"priors"`

	// Training state
	TrainingState TrainingState `json:"training_state"`

	// Metadata
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a learned parameter tensor with its data. Data
// holds full-precision values; Half holds raw IEEE 754 half bits instead
// when the checkpoint was written with half-precision weights.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data,omitempty"`
	Half  []uint16  `json:"half,omitempty"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
}

// Float32 returns the payload at full precision, expanding half bits when
// the full-precision data was dropped at save time.
func (wt *WeightTensor) Float32() []float32 {
	if wt.Data != nil {
		return wt.Data
	}
	full := make([]float32, len(wt.Half))
	for i, bits := range wt.Half {
		full[i] = float16.Frombits(bits).Float32()
	}
	return full
}

// PriorState carries both running EMA priors. Statistics stay float64 end
// to end so a load restores exactly what was saved.
type PriorState struct {
	Global   training.StatsState `json:"global"`
	Boundary training.StatsState `json:"boundary"`
}

// TrainingState captures the current training progress
type TrainingState struct {
	Epoch      int     `json:"epoch"`
	Step       int     `json:"step"`
	BestLoss   float64 `json:"best_loss"`
	BestCosine float64 `json:"best_cosine"`
	TotalSteps int     `json:"total_steps"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CheckpointSaver handles saving and loading checkpoints in various formats
type CheckpointSaver struct {
	format      CheckpointFormat
	halfWeights bool
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// EnableHalfWeights stores weight payloads as IEEE 754 half bits. The
// conversion is lossy and only the CBOR format supports it; priors are
// always written at full float64 precision.
func (cs *CheckpointSaver) EnableHalfWeights() error {
	if cs.format != FormatCBOR {
		return fmt.Errorf("half-precision weights require the CBOR format, not %s", cs.format.String())
	}
	cs.halfWeights = true
	return nil
}

// SaveCheckpoint saves a complete checkpoint
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatCBOR:
		return cs.saveCBOR(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// LoadCheckpoint loads a checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	case FormatCBOR:
		return cs.loadCBOR(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// stampMetadata fills in defaults for any metadata the caller left blank
func stampMetadata(checkpoint *Checkpoint) {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "symalign"
		checkpoint.Metadata.Version = "1.0.0"
	}
	if checkpoint.Metadata.RunID == "" {
		checkpoint.Metadata.RunID = uuid.NewString()
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now().UTC()
	}
}

// saveJSON saves checkpoint in JSON format
func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	stampMetadata(checkpoint)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	jsonEncoder := json.NewEncoder(file)
	jsonEncoder.SetIndent("", "  ") // Pretty print JSON

	if err := jsonEncoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return nil
}

// loadJSON loads checkpoint from JSON format
func (cs *CheckpointSaver) loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)

	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// ExtractWeights copies every learned parameter out of the encoder. The
// returned payloads do not alias the live tensors.
func ExtractWeights(enc *encoder.MultiModalEncoder) ([]WeightTensor, error) {
	if enc == nil {
		return nil, fmt.Errorf("encoder is nil")
	}

	params := enc.NamedParameters()
	weights := make([]WeightTensor, 0, len(params))
	for _, param := range params {
		data, err := param.Tensor.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("failed to extract data for %s: %v", param.Name, err)
		}
		payload := make([]float32, len(data))
		copy(payload, data)

		shape := make([]int, len(param.Tensor.Shape))
		copy(shape, param.Tensor.Shape)

		layerName, kind := splitParameterName(param.Name)
		weights = append(weights, WeightTensor{
			Name:  param.Name,
			Shape: shape,
			Data:  payload,
			Layer: layerName,
			Type:  kind,
		})
	}

	return weights, nil
}

// splitParameterName splits "image.conv1.weight" into its layer path and
// parameter kind.
func splitParameterName(name string) (string, string) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}

// LoadWeights copies checkpoint weights back into the encoder by parameter
// name, verifying shapes along the way.
func LoadWeights(enc *encoder.MultiModalEncoder, weights []WeightTensor) error {
	if enc == nil {
		return fmt.Errorf("encoder is nil")
	}

	live := enc.NamedParameters()
	if len(weights) != len(live) {
		return fmt.Errorf("weight count mismatch: %d weights, %d parameters", len(weights), len(live))
	}

	liveShapes := make(map[string][]int, len(live))
	for _, param := range live {
		liveShapes[param.Name] = param.Tensor.Shape
	}

	for _, weight := range weights {
		liveShape, ok := liveShapes[weight.Name]
		if !ok {
			return fmt.Errorf("checkpoint weight %s has no matching parameter", weight.Name)
		}
		if len(liveShape) != len(weight.Shape) {
			return fmt.Errorf("shape mismatch for weight %s: parameter %v vs checkpoint %v",
				weight.Name, liveShape, weight.Shape)
		}
		for j, dim := range liveShape {
			if dim != weight.Shape[j] {
				return fmt.Errorf("dimension mismatch for weight %s at index %d: parameter %d vs checkpoint %d",
					weight.Name, j, dim, weight.Shape[j])
			}
		}

		if err := enc.SetParameter(weight.Name, weight.Float32()); err != nil {
			return fmt.Errorf("failed to load weight %s: %v", weight.Name, err)
		}
	}

	return nil
}

// NewCheckpointFromAlignment snapshots the encoder weights, priors, and
// configuration of a live alignment. Training state and metadata are left
// for the caller to fill in.
func NewCheckpointFromAlignment(align *training.Alignment) (*Checkpoint, error) {
	if align == nil {
		return nil, fmt.Errorf("alignment is nil")
	}

	enc := align.Encoder()
	weights, err := ExtractWeights(enc)
	if err != nil {
		return nil, err
	}

	return &Checkpoint{
		EncoderConfig:   enc.Config(),
		ImageSpec:       enc.ImageBranch().Spec(),
		Weights:         weights,
		AlignmentConfig: align.Config(),
		Priors: PriorState{
			Global:   align.GlobalPrior().State(),
			Boundary: align.BoundaryPrior().State(),
		},
	}, nil
}

// RestoreAlignment loads checkpoint weights and priors into a live
// alignment whose encoder configuration matches the checkpoint's.
func RestoreAlignment(checkpoint *Checkpoint, align *training.Alignment) error {
	if checkpoint == nil {
		return fmt.Errorf("checkpoint is nil")
	}
	if align == nil {
		return fmt.Errorf("alignment is nil")
	}
	if got := align.Encoder().Config(); got != checkpoint.EncoderConfig {
		return fmt.Errorf("encoder config mismatch: checkpoint %+v, alignment %+v",
			checkpoint.EncoderConfig, got)
	}

	if err := LoadWeights(align.Encoder(), checkpoint.Weights); err != nil {
		return err
	}
	if err := align.GlobalPrior().Restore(checkpoint.Priors.Global); err != nil {
		return fmt.Errorf("failed to restore global prior: %v", err)
	}
	if err := align.BoundaryPrior().Restore(checkpoint.Priors.Boundary); err != nil {
		return fmt.Errorf("failed to restore boundary prior: %v", err)
	}

	return nil
}
