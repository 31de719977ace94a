package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BaSui01/interiorflow/admission"
	"github.com/BaSui01/interiorflow/artifact"
	"github.com/BaSui01/interiorflow/conditioning"
	"github.com/BaSui01/interiorflow/engine"
	"go.uber.org/zap"
)

// viewFlags 收集重复的 --view name=path
type viewFlags map[string]string

func (v viewFlags) String() string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (v viewFlags) Set(s string) error {
	name, path, ok := strings.Cut(s, "=")
	if !ok || name == "" || path == "" {
		return fmt.Errorf("view must be name=path, got %q", s)
	}
	v[name] = path
	return nil
}

// seedFlags 收集重复的 --seed
type seedFlags []int64

func (s *seedFlags) String() string {
	parts := make([]string, len(*s))
	for i, v := range *s {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}

func (s *seedFlags) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return fmt.Errorf("seed must be an integer, got %q", part)
		}
		*s = append(*s, n)
	}
	return nil
}

// generateOutput generate 命令打印的 JSON
type generateOutput struct {
	*engine.GenerationResult
	Files []string `json:"files,omitempty"`
}

// =============================================================================
// 🎨 generate 命令
// =============================================================================

func runGenerate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	photo := fs.String("photo", "", "Room photo (JPEG or PNG)")
	room := fs.String("room", "", "Room type")
	style := fs.String("style", "", "Furniture style")
	wall := fs.String("wall", "", "Wall color")
	floor := fs.String("floor", "", "Flooring material")
	width := fs.Int("width", 0, "Output width (0 = configured default)")
	height := fs.Int("height", 0, "Output height (0 = configured default)")
	fanOut := fs.Int("fan-out", 0, "Images to generate (0 = configured default)")
	identity := fs.String("identity", "cli", "Caller identity charged for the request")
	plan := fs.String("plan", "", "Caller plan (premium, pro, ...)")
	anonymous := fs.Bool("anonymous", false, "Treat the caller as anonymous")
	outDir := fs.String("out", ".", "Directory for the generated images")
	strength := fs.Float64("strength", 0, "Image strength in [0, 1] (0 = engine default)")
	weight := fs.Float64("weight", 0, "Conditioning weight in [0, 2] (0 = engine default)")
	steps := fs.Int("steps", 0, "Inference steps (0 = configured default)")
	guidance := fs.Float64("guidance", 0, "Guidance scale (0 = configured default)")
	views := viewFlags{}
	fs.Var(views, "view", "Secondary view as name=path, repeatable")
	var seeds seedFlags
	fs.Var(&seeds, "seed", "Explicit seed, repeatable or comma separated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *photo == "" {
		return fmt.Errorf("%w: --photo is required", errUsage)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	req := &engine.GenerationRequest{
		RoomType:         *room,
		FurnitureStyle:   *style,
		WallColor:        *wall,
		FlooringMaterial: *floor,
		Resolution:       engine.Resolution{Width: *width, Height: *height},
		FanOut:           *fanOut,
		Seeds:            seeds,

		ImageStrength:      *strength,
		ConditioningWeight: *weight,
		Steps:              *steps,
		GuidanceScale:      *guidance,
	}
	if req.Image, err = os.ReadFile(*photo); err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	if len(views) > 0 {
		req.SecondaryImage = make(map[string][]byte, len(views))
		for name, path := range views {
			if req.SecondaryImage[name], err = os.ReadFile(path); err != nil {
				return fmt.Errorf("read view %s: %w", name, err)
			}
		}
	}

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	meta := admission.Metadata{Authenticated: !*anonymous, Plan: *plan}
	res, err := app.Orchestrator.Generate(ctx, *identity, meta, req)
	if err != nil {
		return err
	}

	files, err := writeImages(ctx, app.Artifacts, res, *outDir)
	if err != nil {
		return err
	}
	logger.Info("generation finished",
		zap.Bool("success", res.Success),
		zap.String("engine", res.Engine),
		zap.Int("files", len(files)),
	)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(generateOutput{GenerationResult: res, Files: files}); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("generation failed: %s", res.Error)
	}
	return nil
}

// writeImages 将 artifact 引用写成文件；托管服务返回的 URL 原样保留
func writeImages(ctx context.Context, store artifact.Store, res *engine.GenerationResult, dir string) ([]string, error) {
	if len(res.Images) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	prefix := res.RequestID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	var files []string
	for i, ref := range res.Images {
		if !artifact.IsRef(ref) {
			continue
		}
		data, mime, err := store.Get(ctx, ref)
		if err != nil {
			return files, fmt.Errorf("fetch %s: %w", ref, err)
		}
		name := fmt.Sprintf("%s-%d.%s", prefix, i+1, artifact.Extension(mime))
		if i < len(res.Seeds) {
			name = fmt.Sprintf("%s-%d-seed%d.%s", prefix, i+1, res.Seeds[i], artifact.Extension(mime))
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return files, fmt.Errorf("write %s: %w", path, err)
		}
		files = append(files, path)
	}
	return files, nil
}

// =============================================================================
// 🧭 condition 命令
// =============================================================================

func runCondition(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("condition", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	photo := fs.String("photo", "", "Room photo (JPEG or PNG)")
	width := fs.Int("width", 1024, "Map width")
	height := fs.Int("height", 768, "Map height")
	outFile := fs.String("out", "conditioning.png", "Output PNG path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *photo == "" {
		return fmt.Errorf("%w: --photo is required", errUsage)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	data, err := os.ReadFile(*photo)
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	m, err := conditioning.New(cfg.Conditioning, logger).
		Extract(ctx, data, conditioning.Resolution{Width: *width, Height: *height})
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outFile, m.PNG, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *outFile, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*conditioning.Map
		File string `json:"file"`
	}{m, *outFile})
}
