package cmd

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/man-iishkr/RupX/internal/identity"
	"github.com/man-iishkr/RupX/internal/notify"
	"github.com/man-iishkr/RupX/internal/training"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Publish a project's identity embeddings from a file",
	Long: `Publish identity embeddings produced by the training pipeline.

The file is YAML or JSON with one averaged embedding per person:

  identities:
    - name: alice
      embedding: [0.12, -0.03, ...]
  images_processed: 42

The embeddings become the project's next identity version. A running
server picks it up on its next restart; use the HTTP API to retrain a
live project.`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().String("project", "", "Project ID (required)")
	trainCmd.Flags().String("file", "", "Identity file, YAML or JSON (required)")
	trainCmd.Flags().Int("images", 0, "Number of images processed (overrides the file)")
	trainCmd.Flags().Bool("json", false, "Output as JSON")
	_ = trainCmd.MarkFlagRequired("project")
	_ = trainCmd.MarkFlagRequired("file")
}

// identityFile is the on-disk format of a training upload.
type identityFile struct {
	Identities      []identity.Vector `yaml:"identities"`
	ImagesProcessed int               `yaml:"images_processed"`
}

// parseIdentityFile decodes an identity file. JSON is accepted as YAML.
func parseIdentityFile(data []byte) (identityFile, error) {
	var f identityFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return identityFile{}, fmt.Errorf("parsing identity file: %w", err)
	}
	if len(f.Identities) == 0 {
		return identityFile{}, errors.New("identity file has no identities")
	}
	return f, nil
}

// checkVectors reports the first vector that is empty, non-finite or of the
// wrong length. dim <= 0 takes the length of the first vector.
func checkVectors(vectors []identity.Vector, dim int, bar *progressbar.ProgressBar) error {
	if dim <= 0 {
		dim = len(vectors[0].Values)
	}
	for _, v := range vectors {
		if len(v.Values) != dim {
			return fmt.Errorf("identity %q: embedding has %d values, expected %d", v.Name, len(v.Values), dim)
		}
		for _, x := range v.Values {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return fmt.Errorf("identity %q: embedding contains a non-finite value", v.Name)
			}
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	return nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	projectID := mustGetString(cmd, "project")
	path := mustGetString(cmd, "file")
	jsonOutput := mustGetBool(cmd, "json")

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	file, err := parseIdentityFile(data)
	if err != nil {
		return err
	}
	if images := mustGetInt(cmd, "images"); images > 0 {
		file.ImagesProcessed = images
	}

	env, err := setupEngineEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(file.Identities),
			progressbar.OptionSetDescription("Checking embeddings"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("identities"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}
	err = checkVectors(file.Identities, env.cfg.Recognition.EmbeddingDim, bar)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return err
	}

	catalog := identity.NewCatalog(env.backend, identity.Options{IndexThreshold: env.cfg.Recognition.HNSWMinIdentities})
	// Continue the persisted version sequence.
	if _, _, err := catalog.Reload(ctx, projectID); err != nil && !errors.Is(err, identity.ErrNotTrained) {
		return fmt.Errorf("loading current identities: %w", err)
	}

	trainer := training.New(catalog, env.backend, notify.New(env.cfg.Notify), training.Options{
		Dim:           env.cfg.Recognition.EmbeddingDim,
		NotifyTimeout: env.cfg.Notify.Timeout,
	}, env.logger)
	defer trainer.Wait()
	res, err := trainer.Train(ctx, training.Request{
		ProjectID:       projectID,
		Vectors:         file.Identities,
		ImagesProcessed: file.ImagesProcessed,
	})
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	if jsonOutput {
		return outputJSON(res)
	}
	fmt.Printf("Published version %d of project %s with %d identities\n", res.Version, res.ProjectID, res.NumIdentities)
	if res.RunID != "" {
		fmt.Printf("  Run: %s\n", res.RunID)
	}
	if len(res.NearDuplicates) > 0 {
		fmt.Printf("\nWarning: %d identity pairs are near-duplicates and may match as unknown:\n", len(res.NearDuplicates))
		for _, d := range res.NearDuplicates {
			fmt.Printf("  %s / %s (%.3f)\n", d.A, d.B, d.Similarity)
		}
	}
	return nil
}
