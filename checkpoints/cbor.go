package checkpoints

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/x448/float16"
)

// cborEncMode returns the encoder configuration for binary checkpoints.
// Timestamps are written as RFC 3339 strings so metadata survives a round
// trip unchanged; everything else uses the default encoding, which keeps
// float64 prior statistics exact.
func cborEncMode() (cbor.EncMode, error) {
	return cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
}

// saveCBOR saves checkpoint in CBOR format
func (cs *CheckpointSaver) saveCBOR(checkpoint *Checkpoint, path string) error {
	stampMetadata(checkpoint)

	out := checkpoint
	if cs.halfWeights {
		compact := *checkpoint
		compact.Weights = halfWeightTensors(checkpoint.Weights)
		out = &compact
	}

	em, err := cborEncMode()
	if err != nil {
		return fmt.Errorf("failed to configure CBOR encoder: %v", err)
	}
	data, err := em.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	return nil
}

// loadCBOR loads checkpoint from CBOR format
func (cs *CheckpointSaver) loadCBOR(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}

	var checkpoint Checkpoint
	if err := cbor.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return &checkpoint, nil
}

// halfWeightTensors converts full-precision payloads to IEEE 754 half bits,
// leaving the originals untouched.
func halfWeightTensors(weights []WeightTensor) []WeightTensor {
	out := make([]WeightTensor, len(weights))
	for i, weight := range weights {
		converted := weight
		if weight.Data != nil {
			half := make([]uint16, len(weight.Data))
			for j, v := range weight.Data {
				half[j] = float16.Fromfloat32(v).Bits()
			}
			converted.Data = nil
			converted.Half = half
		}
		out[i] = converted
	}
	return out
}
