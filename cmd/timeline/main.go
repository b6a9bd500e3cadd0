package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ivlev/timeline/internal/analyzer"
	"github.com/ivlev/timeline/internal/config"
	"github.com/ivlev/timeline/internal/engine"
	"github.com/ivlev/timeline/internal/framecache"
	"github.com/ivlev/timeline/internal/logging"
	"github.com/ivlev/timeline/internal/media"
	"github.com/ivlev/timeline/internal/preview"
	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/quality"
	"github.com/ivlev/timeline/internal/scenario"
	"github.com/ivlev/timeline/internal/system"
	"github.com/ivlev/timeline/internal/timebase"
	"github.com/ivlev/timeline/internal/video"
)

const usage = `timeline <command> [flags]

commands:
  export     render a scenario to video or PNG frames
  preview    serve a scenario over HTTP
  slideshow  generate a scenario from a PDF or an image folder
  config     write the default config file
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "export":
		err = runExport(args)
	case "preview":
		err = runPreview(args)
	case "slideshow":
		err = runSlideshow(args)
	case "config":
		err = runConfig(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "[-] Ошибка: %v\n", err)
		os.Exit(1)
	}
}

type common struct {
	config   *string
	scenario *string
	logLevel *string
}

func commonFlags(fs *flag.FlagSet) common {
	return common{
		config:   fs.String("config", "", "Файл конфигурации (по умолчанию timeline.yaml, если есть)"),
		scenario: fs.String("scenario", "", "Сценарий YAML (по умолчанию: самый свежий в scenarios/)"),
		logLevel: fs.String("log-level", "", "debug, info, warn, error"),
	}
}

// load reads config and scenario and builds the project.
func (c common) load() (*config.Config, *slog.Logger, *project.Project, *scenario.Result, error) {
	cfg, err := config.Load(*c.config)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if *c.logLevel != "" {
		cfg.LogLevel = *c.logLevel
	}
	log := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	system.InitResourceLimits(log)

	path := *c.scenario
	if path == "" {
		path, err = scenario.FindLatestScenario("scenarios")
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("%w. Создайте сценарий командой slideshow", err)
		}
		fmt.Printf("[*] Выбран сценарий: %s\n", path)
	}
	doc, err := scenario.ReadScenario(path)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ошибка чтения сценария: %w", err)
	}
	p, res, err := scenario.Build(doc, scenario.Options{
		Rate:    cfg.Output.Rate,
		Width:   cfg.Output.Width,
		Height:  cfg.Output.Height,
		Project: project.Options{Logger: log},
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("сценарий %s: %w", path, err)
	}
	return cfg, log, p, res, nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	c := commonFlags(fs)
	outputPtr := fs.String("output", "", "Путь к видео или папке кадров (если пусто, генерируется в output/)")
	pngPtr := fs.Bool("png", false, "Писать PNG-кадры вместо видео")
	fromPtr := fs.Float64("from", 0, "Начало (сек)")
	toPtr := fs.Float64("to", 0, "Конец (сек, 0 - до конца композиции)")
	tierPtr := fs.String("tier", "high", "Качество рендера: low, medium, high")
	audioPtr := fs.String("audio", "", "Аудио для сведения в видео")
	presetPtr := fs.String("preset", "", "Пресет формата: 16:9, 9:16 (Shorts/TikTok), 4:5 (Instagram)")
	statsPtr := fs.Bool("stats", false, "Показать отчёт и дописать benchmark.log")
	fs.Parse(args)

	cfg, log, p, res, err := c.load()
	if err != nil {
		return err
	}
	switch *presetPtr {
	case "16:9":
		cfg.Output.Width, cfg.Output.Height = 1280, 720
	case "9:16":
		cfg.Output.Width, cfg.Output.Height = 720, 1280
	case "4:5":
		cfg.Output.Width, cfg.Output.Height = 1080, 1350
	}
	tier, err := quality.ParseTier(*tierPtr)
	if err != nil {
		return err
	}

	rate := cfg.Output.Rate
	end := timebase.FromSeconds(*toPtr, rate)
	if end <= 0 {
		if end, err = p.Duration(res.Root); err != nil {
			return err
		}
	}
	r := timebase.Range{Start: timebase.FromSeconds(*fromPtr, rate), End: end}

	output := *outputPtr
	if output == "" {
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		name := "timeline_" + timestamp
		if !*pngPtr {
			name += ".mp4"
		}
		output = filepath.Join("output", name)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}

	var sink video.Sink
	if *pngPtr {
		sink = &video.PNGSink{Dir: output}
	} else {
		encoderName := cfg.Export.Encoder
		if encoderName == "" || encoderName == "auto" {
			encoderName = system.GetBestH264Encoder()
			if encoderName != "libx264" {
				fmt.Printf("[*] Обнаружено аппаратное ускорение: %s\n", encoderName)
			}
		}
		q := cfg.Export.Quality
		if q == 0 {
			q = defaultQuality(encoderName)
		}
		sink = &video.FFmpegSink{Path: output, Encoder: encoderName, Quality: q, Audio: *audioPtr, Bin: cfg.Media.FFmpeg}
	}

	opts, err := engine.OptionsFromConfig(cfg, log)
	if err != nil {
		return err
	}
	total := 0
	opts.OnProgress = func(done, n int) {
		total = n
		if done%max(1, n/20) == 0 || done == n {
			fmt.Printf("[>] Кадры: %d/%d\n", done, n)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	e := engine.New(ctx, p, opts)
	defer e.Close()

	fmt.Println("--- [TIMELINE EXPORT] ---")
	fmt.Printf("[*] Диапазон: %s | Качество: %s\n", r, tier)
	fmt.Printf("[*] Разрешение: %dx%d @ %d FPS\n", cfg.Output.Width, cfg.Output.Height, cfg.Output.FPS)
	fmt.Println("-------------------------")

	stats, err := e.Export(ctx, res.Root, r, tier, sink)
	if err != nil {
		return err
	}
	if *statsPtr {
		report(stats, total, output, e.Stats())
	}
	fmt.Printf("[+++] Успех! Результат: %s\n", output)
	return nil
}

func defaultQuality(encoder string) int {
	switch encoder {
	case "h264_videotoolbox":
		return 75 // Хорошее качество для VideoToolbox
	case "h264_nvenc":
		return 28 // Эквивалент CRF для NVENC
	default:
		return 23 // Стандартный CRF для x264
	}
}

func report(s engine.ExportStats, total int, output string, es engine.Stats) {
	fmt.Printf("--- [PERFORMANCE REPORT] ---\n"+
		"Total Time: %.2fs\n"+
		"Frames: %d/%d\n"+
		"Effective FPS: %.2f\n"+
		"Cache: %d hits, %d evictions\n"+
		"----------------------------\n",
		s.Elapsed.Seconds(), s.Frames, total, s.FPS(), es.Cache.Hits, es.Cache.Evictions)

	// Логирование в файл
	entry := fmt.Sprintf("[%s] Output: %s | Frames: %d | Total: %.2fs | FPS: %.2f\n",
		time.Now().Format("2006-01-02 15:04:05"), filepath.Base(output), s.Frames, s.Elapsed.Seconds(), s.FPS())
	f, err := os.OpenFile("benchmark.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Printf("[!] Не удалось записать benchmark.log: %v\n", err)
		return
	}
	f.WriteString(entry)
	f.Close()
}

func runPreview(args []string) error {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	c := commonFlags(fs)
	addrPtr := fs.String("addr", "", "Адрес HTTP (по умолчанию из конфигурации)")
	fs.Parse(args)

	cfg, log, p, _, err := c.load()
	if err != nil {
		return err
	}
	if *addrPtr != "" {
		cfg.Preview.Addr = *addrPtr
	}
	opts, err := engine.OptionsFromConfig(cfg, log)
	if err != nil {
		return err
	}
	opts.OnReady = func(k framecache.Key) {
		log.Debug("frame ready", "key", k.String())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	e := engine.New(ctx, p, opts)
	defer e.Close()

	srv := preview.NewServer(preview.ServerConfig{
		Addr:      cfg.Preview.Addr,
		Session:   preview.NewSession(e, cfg.Output.Rate),
		Logger:    log,
		StartTime: time.Now(),
	})
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()
	fmt.Printf("[*] Предпросмотр: http://%s/compositions\n", srv.Addr())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runSlideshow(args []string) error {
	fs := flag.NewFlagSet("slideshow", flag.ExitOnError)
	configPtr := fs.String("config", "", "Файл конфигурации")
	inputPtr := fs.String("input", "", "PDF или папка с изображениями (по умолчанию: самый свежий файл в input/pdf/)")
	audioPtr := fs.String("audio", "", "Путь к аудио (по умолчанию: самый свежий файл в input/audio/)")
	durationPtr := fs.Float64("duration", 0, "Общая длительность (если 0, по аудио или 5с на слайд)")
	fadePtr := fs.Float64("fade", 0.5, "Длительность перехода (сек)")
	zoomPtr := fs.Float64("zoom-speed", 0.01, "Скорость зума в секунду (0 - без зума)")
	seedPtr := fs.Int64("seed", 0, "Seed для длительностей (0 - случайный)")
	outputPtr := fs.String("output", "", "Путь к сценарию (если пусто, генерируется в scenarios/)")
	smartZoomPtr := fs.Bool("smart-zoom", false, "Камера по найденным блокам контента вместо Ken Burns")
	detectorPtr := fs.String("detector", "contrast", "Детектор блоков (contrast)")
	minAreaPtr := fs.Int("min-block-area", 500, "Минимальная площадь блока (пикс²)")
	fs.Parse(args)

	cfg, err := config.Load(*configPtr)
	if err != nil {
		return err
	}
	log := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	for _, d := range []string{"input/audio", "input/pdf", "scenarios"} {
		os.MkdirAll(d, 0755)
	}

	inputPath := *inputPtr
	if inputPath == "" {
		latest, err := system.FindLatest("input/pdf", system.PDFExtensions)
		if err != nil {
			return fmt.Errorf("%w. Положите PDF в input/pdf/", err)
		}
		inputPath = latest
		fmt.Printf("[*] Выбран файл: %s\n", inputPath)
	}

	var slides []scenario.Slide
	if strings.HasSuffix(strings.ToLower(inputPath), ".pdf") {
		pdf := media.NewPDFDecoder(timebase.FromSeconds(cfg.Media.PageSeconds, cfg.Output.Rate), cfg.Media.PDFDPI)
		n, err := pdf.PageCount(inputPath)
		if err != nil {
			return err
		}
		slides = scenario.PDFSlides(inputPath, n, cfg.Media.PageSeconds)
	} else {
		if slides, err = scenario.SlidesFromDir(inputPath); err != nil {
			return err
		}
	}

	audioPath := *audioPtr
	if audioPath == "" {
		if latest, err := system.FindLatest("input/audio", system.AudioExtensions); err == nil {
			audioPath = latest
			fmt.Printf("[*] Выбрано аудио: %s\n", audioPath)
		}
	}

	var camera *scenario.Camera
	if *smartZoomPtr {
		detector, err := analyzer.NewDetector(*detectorPtr)
		if err != nil {
			return err
		}
		if cd, ok := detector.(*analyzer.ContrastDetector); ok {
			cd.MinBlockArea = *minAreaPtr
		}
		camera = &scenario.Camera{
			Decoder:  engine.NewDecoder(cfg),
			Detector: detector,
			Director: scenario.NewDirector(cfg.Output.Width, cfg.Output.Height),
			Rate:     cfg.Output.Rate,
		}
		fmt.Printf("[*] Smart Zoom: детектор %s\n", *detectorPtr)
	}

	doc, err := scenario.Slideshow(context.Background(), scenario.SlideshowOptions{
		Slides: slides,
		Total:  *durationPtr,
		Fade:   *fadePtr,
		Audio:  audioPath,
		Zoom:   *zoomPtr,
		FPS:    cfg.Output.FPS,
		Seed:   *seedPtr,
		Camera: camera,
		Log:    log,
	})
	if err != nil {
		return err
	}

	output := *outputPtr
	if output == "" {
		output = scenario.GenerateScenarioPath("scenarios")
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}
	if err := scenario.WriteScenario(doc, output); err != nil {
		return err
	}
	fmt.Printf("[+++] Успех! Сценарий сохранен: %s\n", output)
	return nil
}

func runConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	outputPtr := fs.String("o", config.DefaultFile, "Куда записать конфигурацию")
	force := fs.Bool("force", false, "Перезаписать существующий файл")
	fs.Parse(args)

	if _, err := os.Stat(*outputPtr); err == nil && !*force {
		return fmt.Errorf("%s уже существует (используйте -force)", *outputPtr)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := config.Default().Write(*outputPtr); err != nil {
		return err
	}
	fmt.Printf("[+++] Конфигурация записана: %s\n", *outputPtr)
	return nil
}
