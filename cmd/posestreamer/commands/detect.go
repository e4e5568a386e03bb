package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/PoseStreamer/internal/imageio"
	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pipeline"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

var (
	detectVideo   string
	detectOut     string
	detectBackend string
)

var detectCmd = &cobra.Command{
	Use:   "detect [IMAGE]",
	Short: "Detect the pose in an image or video file",
	Long: `Run pose detection on a still image or, with --video, on every frame of
a recorded video. Results are printed as JSON, one event per line.`,
	Example: `  # Detect the pose in a photo and save the overlay
  posestreamer detect person.jpg --out overlay.png

  # Process a recording, writing one overlay per frame
  posestreamer detect --video clip.mp4 --out frames/

  # Use the accelerated backend
  posestreamer detect person.jpg --backend accelerated`,
	Args: func(cmd *cobra.Command, args []string) error {
		if detectVideo == "" && len(args) != 1 {
			return fmt.Errorf("requires an IMAGE argument or --video")
		}
		if detectVideo != "" && len(args) != 0 {
			return fmt.Errorf("IMAGE and --video are mutually exclusive")
		}
		return nil
	},
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().StringVar(&detectVideo, "video", "", "recorded video to process frame by frame")
	detectCmd.Flags().StringVarP(&detectOut, "out", "o", "", "write the rendered overlay (a directory for --video)")
	detectCmd.Flags().StringVar(&detectBackend, "backend", "", "inference backend (general_purpose or accelerated)")
}

// offscreen is a surface with no size; the command renders explicitly
type offscreen struct{}

func (offscreen) Size() image.Point     { return image.Point{} }
func (offscreen) Present(*image.RGBA)   {}
func (offscreen) Resize(w, h int) error { return nil }

func runDetect(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	if detectBackend != "" {
		if err := configMgr.Override("engine.backend", detectBackend); err != nil {
			return err
		}
	}
	cfg := configMgr.Get()
	// overlays are drawn over the input
	cfg.Overlay.ShowPreview = true

	p, err := newPipeline(cfg, nil, offscreen{})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	p.Start(ctx)
	defer p.Close()

	enc := json.NewEncoder(os.Stdout)

	if detectVideo != "" {
		return detectVideoFile(p, enc)
	}

	img, err := imageio.Load(args[0])
	if err != nil {
		return err
	}
	res, err := p.DetectImage(img)
	if err != nil {
		return err
	}
	if err := enc.Encode(pose.NewResultEvent(res)); err != nil {
		return err
	}
	if detectOut != "" {
		return saveOverlay(p, detectOut, res)
	}
	return nil
}

func detectVideoFile(p *pipeline.Pipeline, enc *json.Encoder) error {
	log := logger.WithComponent("detect")
	if detectOut != "" {
		if err := os.MkdirAll(detectOut, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	frames := 0
	err := imageio.ReadVideo(detectVideo, func(img *image.RGBA, ts int64) error {
		res, err := p.DetectVideoFrame(img, ts)
		if err != nil {
			return err
		}
		frames++
		if err := enc.Encode(struct {
			TimestampMs int64 `json:"timestampMs"`
			pose.ResultEvent
		}{ts, pose.NewResultEvent(res)}); err != nil {
			return err
		}
		if detectOut == "" {
			return nil
		}
		return saveOverlay(p, filepath.Join(detectOut, fmt.Sprintf("frame_%06d.png", frames)), res)
	})
	log.Info().Int("frames", frames).Str("video", detectVideo).Msg("Video processed")
	return err
}

func saveOverlay(p *pipeline.Pipeline, path string, res pose.DetectionResult) error {
	if filepath.Ext(path) == "" || strings.HasSuffix(path, string(filepath.Separator)) {
		return fmt.Errorf("output path needs an image extension: %s", path)
	}
	img := p.Render(res.ImageWidth, res.ImageHeight)
	if img == nil {
		return fmt.Errorf("renderer stopped")
	}
	return imageio.Save(path, img)
}
