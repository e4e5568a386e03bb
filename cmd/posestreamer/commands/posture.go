package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/PoseStreamer/internal/engine/onnxpose"
	"github.com/bryanchriswhite/PoseStreamer/internal/imageio"
)

var postureJSON bool

var postureCmd = &cobra.Command{
	Use:   "posture IMAGE...",
	Short: "Classify body posture in photos",
	Long: `Classify each photo as anterior pelvic tilt, forward head / kyphosis
or normal posture, and print the findings with suggested exercises.

The model is taken from posture.model_path.`,
	Example: `  posestreamer posture side.jpg
  posestreamer posture --json photos/*.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPosture,
}

func init() {
	rootCmd.AddCommand(postureCmd)

	postureCmd.Flags().BoolVar(&postureJSON, "json", false, "print one JSON prediction per line")
}

func runPosture(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	classifier, err := newClassifier(configMgr.Get())
	if err != nil {
		return err
	}
	defer func() {
		classifier.Close()
		onnxpose.ShutdownRuntime()
	}()

	enc := json.NewEncoder(os.Stdout)
	for _, path := range args {
		img, err := imageio.Load(path)
		if err != nil {
			return err
		}
		pred, err := classifier.Classify(img)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		if postureJSON {
			if err := enc.Encode(struct {
				File       string      `json:"file"`
				Prediction interface{} `json:"prediction"`
			}{path, pred}); err != nil {
				return err
			}
			continue
		}

		fmt.Printf("%s: %s, %s (%.2f%%)\n", path, pred.Class, pred.Analysis.Status, pred.Confidence)
		if len(pred.Analysis.Problems) > 0 {
			fmt.Printf("  Findings:\n    - %s\n", strings.Join(pred.Analysis.Problems, "\n    - "))
		}
		fmt.Printf("  Suggestions:\n    - %s\n", strings.Join(pred.Analysis.Suggestions, "\n    - "))
	}
	return nil
}
