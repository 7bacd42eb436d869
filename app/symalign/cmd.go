package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/symalign/checkpoints"
	"github.com/tsawler/symalign/convert"
	"github.com/tsawler/symalign/encoder"
	"github.com/tsawler/symalign/engine"
	"github.com/tsawler/symalign/tensor"
	"github.com/tsawler/symalign/training"
	"github.com/tsawler/symalign/vision/masks"
	"github.com/tsawler/symalign/vision/preprocessing"
)

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

func newCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "symalign",
		Short: "Multimodal embedding alignment toolkit",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
	}

	cobra.EnableCommandSorting = false

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Train a dual-view alignment on synthetic shapes or an image folder",
		RunE:  runDemo,
	}
	demoCmd.Flags().Int("steps", 30, "Number of alignment steps")
	demoCmd.Flags().Int("batch-size", 8, "Samples per step")
	demoCmd.Flags().String("image-dir", "", "Directory of JPEG/PNG images to align instead of synthetic shapes")
	demoCmd.Flags().Int("size", 32, "Image height and width")
	demoCmd.Flags().Int("embed-dim", 32, "Embedding dimensionality")
	demoCmd.Flags().Int("width", 16, "Encoder channel width")
	demoCmd.Flags().String("fusion", "mlp", "Fusion variant (mlp or attention)")
	demoCmd.Flags().Int("band-width", 2, "Boundary band width in pixels")
	demoCmd.Flags().Int("eval-every", 10, "Steps between metric evaluations")
	demoCmd.Flags().Int64("seed", 1, "Random seed")
	demoCmd.Flags().StringP("output", "o", "", "Checkpoint path to write when done")
	demoCmd.Flags().String("format", "auto", "Checkpoint format (json, cbor, or auto by extension)")

	inspectCmd := &cobra.Command{
		Use:   "inspect CHECKPOINT",
		Short: "Show the configuration, weights, and priors of a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	inspectCmd.Flags().String("format", "auto", "Checkpoint format (json, cbor, or auto by extension)")

	convertCmd := &cobra.Command{
		Use:   "convert DUMP",
		Short: "Convert a torch-layout weight dump into a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runConvert,
	}
	convertCmd.Flags().StringP("output", "o", "converted.cbor", "Checkpoint path to write")
	convertCmd.Flags().String("format", "auto", "Checkpoint format (json, cbor, or auto by extension)")
	convertCmd.Flags().Bool("half", false, "Store weights as half precision (CBOR only)")

	rootCmd.AddCommand(
		demoCmd,
		inspectCmd,
		convertCmd,
	)

	return rootCmd
}

// checkpointFormat resolves the format flag, falling back to the file
// extension when set to auto.
func checkpointFormat(format, path string) (checkpoints.CheckpointFormat, error) {
	switch format {
	case "json":
		return checkpoints.FormatJSON, nil
	case "cbor":
		return checkpoints.FormatCBOR, nil
	case "auto", "":
		if strings.EqualFold(filepath.Ext(path), ".json") {
			return checkpoints.FormatJSON, nil
		}
		return checkpoints.FormatCBOR, nil
	default:
		return 0, fmt.Errorf("unknown checkpoint format %q (want json or cbor)", format)
	}
}

// syntheticBatch builds a batch of random images paired with soft
// probability maps holding one bright square per sample.
func syntheticBatch(rng *rand.Rand, batch, size int) (*tensor.Tensor, *tensor.Tensor, error) {
	images, err := tensor.Random([]int{batch, 3, size, size}, tensor.Float32)
	if err != nil {
		return nil, nil, err
	}

	prob := make([]float32, batch*size*size)
	for b := 0; b < batch; b++ {
		side := size/4 + rng.Intn(size/4)
		top := rng.Intn(size - side)
		left := rng.Intn(size - side)
		base := b * size * size
		for i := range prob[base : base+size*size] {
			prob[base+i] = 0.1 * rng.Float32()
		}
		for dy := 0; dy < side; dy++ {
			for dx := 0; dx < side; dx++ {
				prob[base+(top+dy)*size+(left+dx)] = 0.8 + 0.2*rng.Float32()
			}
		}
	}
	probTensor, err := tensor.NewTensor([]int{batch, 1, size, size}, tensor.Float32, prob)
	if err != nil {
		return nil, nil, err
	}
	return images, probTensor, nil
}

// imageDirBatch loads every JPEG and PNG under dir into one fixed batch,
// with luminance standing in for the probability maps.
func imageDirBatch(ctx context.Context, dir string, size int) (*tensor.Tensor, *tensor.Tensor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no JPEG or PNG images found in %s", dir)
	}

	images, err := preprocessing.LoadBatch(ctx, paths, size, 0)
	if err != nil {
		return nil, nil, err
	}
	prob, err := preprocessing.Luminance(images)
	if err != nil {
		return nil, nil, err
	}
	return images, prob, nil
}

func runDemo(cmd *cobra.Command, args []string) error {
	log := newLogger()

	steps, _ := cmd.Flags().GetInt("steps")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	imageDir, _ := cmd.Flags().GetString("image-dir")
	size, _ := cmd.Flags().GetInt("size")
	embedDim, _ := cmd.Flags().GetInt("embed-dim")
	width, _ := cmd.Flags().GetInt("width")
	fusionName, _ := cmd.Flags().GetString("fusion")
	bandWidth, _ := cmd.Flags().GetInt("band-width")
	evalEvery, _ := cmd.Flags().GetInt("eval-every")
	seed, _ := cmd.Flags().GetInt64("seed")
	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")

	fusion, err := encoder.ParseFusionVariant(fusionName)
	if err != nil {
		return err
	}
	if size < 8 {
		return fmt.Errorf("size must be at least 8, got %d", size)
	}

	engine.SetRandomSeed(seed)
	rng := rand.New(rand.NewSource(seed))

	config := encoder.MultiModalConfig{
		EmbedDim:   embedDim,
		MaskWidth:  width,
		ImageWidth: width,
		Fusion:     fusion,
	}
	// The demo stands in a random frozen mask encoder for a pretrained one
	maskEncoder, err := encoder.NewDefaultMaskEncoder(config.MaskWidth, config.EmbedDim)
	if err != nil {
		return err
	}
	enc, err := encoder.NewMultiModalEncoder(config, maskEncoder)
	if err != nil {
		return err
	}

	alignConfig := training.DefaultAlignmentConfig()
	alignConfig.BoundaryWidth = bandWidth
	align, err := training.NewAlignment(alignConfig, enc)
	if err != nil {
		return err
	}

	// Synthetic shapes by default; a folder of real images when requested,
	// reused as the same fixed batch every step
	nextBatch := func() (*tensor.Tensor, *tensor.Tensor, error) {
		return syntheticBatch(rng, batchSize, size)
	}
	if imageDir != "" {
		images, prob, err := imageDirBatch(cmd.Context(), imageDir, size)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"dir":     imageDir,
			"samples": images.Shape[0],
		}).Info("loaded image directory")
		nextBatch = func() (*tensor.Tensor, *tensor.Tensor, error) {
			return images, prob, nil
		}
	}

	log.WithFields(logrus.Fields{
		"embed_dim": embedDim,
		"fusion":    fusion.String(),
		"band":      bandWidth,
		"steps":     steps,
	}).Info("starting alignment demo")

	printer := training.NewModelArchitecturePrinter("Image branch")
	printer.PrintArchitecture(enc.ImageBranch().Spec())

	bar := training.NewProgressBar("Aligning", steps)
	metrics := map[string]float64{}
	for step := 1; step <= steps; step++ {
		images, prob, err := nextBatch()
		if err != nil {
			return err
		}
		loss, err := align.Step(images, prob, nil)
		if err != nil {
			return err
		}
		lossValue, err := loss.Item()
		if err != nil {
			return err
		}
		metrics["loss"] = float64(lossValue)

		if evalEvery > 0 && step%evalEvery == 0 {
			evalImages, evalProb, err := nextBatch()
			if err != nil {
				return err
			}
			eval, err := training.Evaluate(align, evalImages, evalProb)
			if err != nil {
				return err
			}
			metrics["cosine"] = eval.MeanCosine
			metrics["retrieval_acc"] = eval.RetrievalAccuracy
		}
		bar.Update(step, metrics)
	}
	bar.Finish()

	// Final held-out evaluation
	evalImages, evalProb, err := nextBatch()
	if err != nil {
		return err
	}
	eval, err := training.Evaluate(align, evalImages, evalProb)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"loss":          eval.Loss,
		"cosine":        eval.MeanCosine,
		"retrieval_acc": eval.RetrievalAccuracy,
	}).Info("held-out evaluation")

	// Report how much of the held-out batch the boundary band covers
	band, err := masks.BoundaryFromProbParallel(cmd.Context(), evalProb, bandWidth, 0)
	if err != nil {
		return err
	}
	bandData, err := band.GetFloat32Data()
	if err != nil {
		return err
	}
	covered := 0
	for _, v := range bandData {
		if v == 1 {
			covered++
		}
	}
	log.WithFields(logrus.Fields{
		"pixels":   len(bandData),
		"coverage": fmt.Sprintf("%.1f%%", 100*float64(covered)/float64(len(bandData))),
	}).Info("boundary band statistics")

	if output == "" {
		return nil
	}

	checkpointFmt, err := checkpointFormat(format, output)
	if err != nil {
		return err
	}
	checkpoint, err := checkpoints.NewCheckpointFromAlignment(align)
	if err != nil {
		return err
	}
	checkpoint.TrainingState = checkpoints.TrainingState{
		Step:       steps,
		BestLoss:   eval.Loss,
		BestCosine: eval.MeanCosine,
		TotalSteps: steps,
	}
	checkpoint.Metadata.Description = "synthetic shapes alignment demo"
	if imageDir != "" {
		checkpoint.Metadata.Description = "image folder alignment demo"
	}

	saver := checkpoints.NewCheckpointSaver(checkpointFmt)
	if err := saver.SaveCheckpoint(checkpoint, output); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"path":   output,
		"format": checkpointFmt.String(),
		"run_id": checkpoint.Metadata.RunID,
	}).Info("checkpoint saved")
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	format, _ := cmd.Flags().GetString("format")

	checkpointFmt, err := checkpointFormat(format, path)
	if err != nil {
		return err
	}
	checkpoint, err := checkpoints.NewCheckpointSaver(checkpointFmt).LoadCheckpoint(path)
	if err != nil {
		return err
	}

	fmt.Printf("Checkpoint: %s (%s)\n", path, checkpointFmt.String())
	fmt.Printf("Run:        %s\n", checkpoint.Metadata.RunID)
	fmt.Printf("Created:    %s\n", checkpoint.Metadata.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	if checkpoint.Metadata.Description != "" {
		fmt.Printf("About:      %s\n", checkpoint.Metadata.Description)
	}
	fmt.Println()

	configTable := newTable()
	configTable.SetHeader([]string{"SETTING", "VALUE"})
	configTable.AppendBulk([][]string{
		{"embed_dim", fmt.Sprint(checkpoint.EncoderConfig.EmbedDim)},
		{"mask_width", fmt.Sprint(checkpoint.EncoderConfig.MaskWidth)},
		{"image_width", fmt.Sprint(checkpoint.EncoderConfig.ImageWidth)},
		{"fusion", checkpoint.EncoderConfig.Fusion.String()},
		{"boundary_width", fmt.Sprint(checkpoint.AlignmentConfig.BoundaryWidth)},
		{"decay", fmt.Sprint(checkpoint.AlignmentConfig.Decay)},
		{"delta", fmt.Sprint(checkpoint.AlignmentConfig.Delta)},
		{"reduction", checkpoint.AlignmentConfig.Reduction},
		{"channel", checkpoint.AlignmentConfig.Channel.String()},
	})
	configTable.Render()
	fmt.Println()

	weightTable := newTable()
	weightTable.SetHeader([]string{"PARAMETER", "SHAPE", "VALUES", "STORAGE"})
	total := 0
	for _, weight := range checkpoint.Weights {
		count := 1
		for _, dim := range weight.Shape {
			count *= dim
		}
		total += count
		storage := "float32"
		if weight.Data == nil {
			storage = "float16"
		}
		weightTable.Append([]string{
			weight.Name,
			fmt.Sprint(weight.Shape),
			fmt.Sprint(count),
			storage,
		})
	}
	weightTable.Render()
	fmt.Printf("Total learned values: %d\n\n", total)

	priorTable := newTable()
	priorTable.SetHeader([]string{"PRIOR", "DIM", "DECAY", "INITIALIZED", "MEAN NORM", "VAR NORM"})
	for _, prior := range []struct {
		name  string
		state training.StatsState
	}{
		{"global", checkpoint.Priors.Global},
		{"boundary", checkpoint.Priors.Boundary},
	} {
		priorTable.Append([]string{
			prior.name,
			fmt.Sprint(prior.state.Dim),
			fmt.Sprint(prior.state.Decay),
			fmt.Sprint(prior.state.Initialized),
			fmt.Sprintf("%.4f", floats.Norm(prior.state.Mean, 2)),
			fmt.Sprintf("%.4f", floats.Norm(prior.state.Variance, 2)),
		})
	}
	priorTable.Render()
	return nil
}

func newTable() *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func runConvert(cmd *cobra.Command, args []string) error {
	log := newLogger()

	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	half, _ := cmd.Flags().GetBool("half")

	dump, err := convert.ReadDump(args[0])
	if err != nil {
		return err
	}

	checkpoint, err := convert.NewConverter(log).Convert(dump)
	if err != nil {
		return err
	}

	checkpointFmt, err := checkpointFormat(format, output)
	if err != nil {
		return err
	}
	saver := checkpoints.NewCheckpointSaver(checkpointFmt)
	if half {
		if err := saver.EnableHalfWeights(); err != nil {
			return err
		}
	}
	if err := saver.SaveCheckpoint(checkpoint, output); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"path":   output,
		"format": checkpointFmt.String(),
	}).Info("converted checkpoint saved")
	return nil
}
