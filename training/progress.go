package training

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/exp/maps"

	"github.com/tsawler/symalign/layers"
)

// ProgressBar renders in-place training progress with metrics
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar
func NewProgressBar(description string, total int) *ProgressBar {
	return &ProgressBar{
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       70, // Character width of progress bar
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// UpdateMetrics updates metrics without advancing progress
func (pb *ProgressBar) UpdateMetrics(metrics map[string]float64) {
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Println() // New line after completion
}

// render draws the progress bar
func (pb *ProgressBar) render() {
	percentage := min(float64(pb.current)/float64(pb.total), 1.0)
	filled := min(int(percentage*float64(pb.width)), pb.width)

	elapsed := time.Since(pb.startTime)
	eta := time.Duration(0)
	rate := 0.0
	if pb.current > 0 && percentage > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		eta = time.Duration(float64(elapsed)/percentage) - elapsed
	}

	var line strings.Builder
	fmt.Fprintf(&line, "\r%s: %3.0f%%|%s%s| %d/%d",
		pb.description,
		percentage*100,
		strings.Repeat("█", filled),
		strings.Repeat(" ", pb.width-filled),
		pb.current,
		pb.total,
	)

	if eta > 0 {
		fmt.Fprintf(&line, " [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		fmt.Fprintf(&line, " [%s<00:00", formatDuration(elapsed))
	}
	if rate > 0 {
		fmt.Fprintf(&line, ", %.2fbatch/s", rate)
	}

	// Sorted keys keep the metric order stable between renders
	keys := maps.Keys(pb.metrics)
	slices.Sort(keys)
	for _, key := range keys {
		if strings.Contains(key, "acc") {
			fmt.Fprintf(&line, ", %s=%.2f%%", key, pb.metrics[key]*100)
		} else {
			fmt.Fprintf(&line, ", %s=%.4f", key, pb.metrics[key])
		}
	}
	line.WriteString("]")

	fmt.Print(line.String())
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ModelArchitecturePrinter prints a compiled model spec layer by layer
type ModelArchitecturePrinter struct {
	modelName string
}

// NewModelArchitecturePrinter creates a new model architecture printer
func NewModelArchitecturePrinter(modelName string) *ModelArchitecturePrinter {
	return &ModelArchitecturePrinter{
		modelName: modelName,
	}
}

// PrintArchitecture prints the model architecture and parameter summary
func (p *ModelArchitecturePrinter) PrintArchitecture(modelSpec *layers.ModelSpec) {
	fmt.Printf("Model Architecture:\n")
	fmt.Printf("%s(\n", p.modelName)

	for _, layer := range modelSpec.Layers {
		fmt.Printf("  %s\n", p.formatLayer(layer))
	}

	fmt.Printf(")\n\n")

	fmt.Printf("Total parameters: %s\n", formatParameterCount(modelSpec.TotalParameters))
	fmt.Printf("Params size (MB): %.3f\n\n", float64(modelSpec.TotalParameters*4)/1024/1024)
}

// formatLayer formats a single layer for display
func (p *ModelArchitecturePrinter) formatLayer(layer layers.LayerSpec) string {
	switch layer.Type {
	case layers.Conv2D:
		return fmt.Sprintf("(%s): Conv2d(%d, %d, kernel_size=%d, stride=%d, padding=%d, bias=%t)",
			layer.Name,
			asInt(layer.Parameters["input_channels"]),
			asInt(layer.Parameters["output_channels"]),
			asInt(layer.Parameters["kernel_size"]),
			asInt(layer.Parameters["stride"]),
			asInt(layer.Parameters["padding"]),
			layer.Parameters["use_bias"] == true)
	case layers.Dense:
		return fmt.Sprintf("(%s): Linear(in_features=%d, out_features=%d, bias=%t)",
			layer.Name,
			asInt(layer.Parameters["input_size"]),
			asInt(layer.Parameters["output_size"]),
			layer.Parameters["use_bias"] == true)
	case layers.MaxPool2D:
		return fmt.Sprintf("(%s): MaxPool2d(kernel_size=%d, stride=%d)",
			layer.Name,
			asInt(layer.Parameters["pool_size"]),
			asInt(layer.Parameters["stride"]))
	case layers.ReLU:
		return fmt.Sprintf("(%s): ReLU()", layer.Name)
	case layers.GlobalAvgPool2D:
		return fmt.Sprintf("(%s): GlobalAvgPool2d()", layer.Name)
	case layers.L2Norm:
		return fmt.Sprintf("(%s): L2Norm()", layer.Name)
	default:
		return fmt.Sprintf("(%s): %s()", layer.Name, layer.Type.String())
	}
}

// asInt reads a layer parameter that may be an int or a JSON float64
func asInt(value interface{}) int {
	switch v := value.(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	switch {
	case count >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(count)/1_000_000)
	case count >= 1_000:
		return fmt.Sprintf("%.1fK", float64(count)/1_000)
	default:
		return fmt.Sprintf("%d", count)
	}
}
