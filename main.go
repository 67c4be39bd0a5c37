package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"voice-gamepad/audio_capture"
	"voice-gamepad/command_parser"
	"voice-gamepad/listener"
	"voice-gamepad/logging"
	"voice-gamepad/mappings"
	"voice-gamepad/settings"
	"voice-gamepad/speech_to_text"
	"voice-gamepad/virtual_pad"
)

func main() {
	settingsFlag := flag.String("s", "settings.json", "settings file")
	modelFlag := flag.String("m", "", "directory of the speech model")
	deviceFlag := flag.String("d", "", "capture device name (substring match)")
	profileFlag := flag.String("p", "", "profile to load")
	levelFlag := flag.String("level", "", "log level")
	recordFlag := flag.Bool("record", false, "record recognized utterances to wav files")
	listFlag := flag.Bool("list", false, "list capture devices and exit")
	wavFlag := flag.String("wav", "", "transcribe a wav file instead of listening")

	flag.Parse()

	fileSys := afero.NewOsFs()

	cfg, err := settings.Load(fileSys, *settingsFlag)
	if err != nil {
		log.Fatalf("error loading settings: %v", err)
	}

	if *modelFlag != "" {
		cfg.ModelPath = *modelFlag
	}
	if *deviceFlag != "" {
		cfg.DeviceName = *deviceFlag
	}
	if *levelFlag != "" {
		cfg.LogLevel = *levelFlag
	}
	if *recordFlag {
		cfg.RecordUtterances = true
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		log.Fatalf("error creating logger: %v", err)
	}
	defer logger.Sync()

	if *listFlag {
		listDevices()
		return
	}

	if cfg.ModelPath == "" {
		log.Fatalf("error: model directory not specified")
	}

	engine, err := speech_to_text.New(&speech_to_text.Config{
		ModelPath:  cfg.ModelPath,
		SampleRate: audio_capture.DefaultTargetRate,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("error with speech_to_text.New: %v", err)
	}
	defer engine.Close()

	parser := command_parser.New(logger)

	store, err := mappings.NewStore(&mappings.StoreConfig{
		FileSys: fileSys,
		Dir:     cfg.ProfilesDir,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("error with mappings.NewStore: %v", err)
	}

	profileName := *profileFlag
	if profileName == "" {
		profileName, err = store.EnsureDefault()
		if err != nil {
			log.Fatalf("error preparing profiles: %v", err)
		}
	}

	profile, err := store.Load(profileName)
	if err != nil {
		log.Fatalf("error loading profile %q: %v", profileName, err)
	}

	if problems := parser.Update(profile.Mappings); len(problems) > 0 {
		logger.Warn("profile has invalid mappings",
			zap.String("profile", profileName),
			zap.Strings("problems", problems))
	}

	logger.Info("profile loaded",
		zap.String("profile", profileName),
		zap.Int("mappings", len(profile.Mappings)))

	// The no-op driver stands in until a platform virtual-controller
	// driver is attached.
	pad, err := virtual_pad.New(virtual_pad.NoopDriver{}, logger)
	if err != nil {
		log.Fatalf("error with virtual_pad.New: %v", err)
	}
	defer pad.ReleaseAll()

	if *wavFlag != "" {
		if err := transcribeWav(fileSys, *wavFlag, engine, parser, logger); err != nil {
			log.Fatalf("error transcribing %s: %v", *wavFlag, err)
		}
		return
	}

	capture, err := audio_capture.New(&audio_capture.Config{
		DeviceName: cfg.DeviceName,
		TargetRate: audio_capture.DefaultTargetRate,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("error with audio_capture.New: %v", err)
	}

	pipeline, err := listener.New(&listener.Config{
		Capture:          capture,
		Engine:           engine,
		Parser:           parser,
		Pad:              pad,
		FileSys:          fileSys,
		RecordUtterances: cfg.RecordUtterances,
		RecordingsDir:    cfg.RecordingsDir,
		SampleRate:       audio_capture.DefaultTargetRate,
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("error with listener.New: %v", err)
	}

	go logEvents(pipeline.Events(), logger)

	if err := pipeline.Start(); err != nil {
		log.Fatalf("error starting pipeline: %v", err)
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	<-sigC

	logger.Info("shutting down")
	pipeline.Stop()
}

func listDevices() {
	devices, err := audio_capture.Devices()
	if err != nil {
		log.Fatalf("error listing devices: %v", err)
	}

	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("%s %2d  %-40s  %d ch  %.0f Hz\n", marker, d.ID, d.Name, d.MaxChannels, d.DefaultRate)
	}
}

func logEvents(events <-chan listener.Event, logger *zap.Logger) {
	for ev := range events {
		switch ev.Kind {
		case listener.EventStatus:
			logger.Info("status changed",
				zap.String("state", string(ev.State)),
				zap.String("message", ev.Message))
		case listener.EventPartial:
			logger.Debug("hearing", zap.String("text", ev.Text))
		case listener.EventCommand:
			if ev.Mapping == nil {
				logger.Info("no matching command", zap.String("text", ev.Text))
			}
		}
	}
}

// transcribeWav runs a wav file through the same normalize → recognize →
// match path the live pipeline uses, logging what each final utterance
// would do.
func transcribeWav(fileSys afero.Fs, path string, engine speech_to_text.Interface, parser *command_parser.Parser, logger *zap.Logger) error {
	file, err := fileSys.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return fmt.Errorf("not a valid wav file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("decoding: %w", err)
	}

	samples := normalizeBuffer(buf, int(decoder.BitDepth))

	const chunk = 4000
	for start := 0; start < len(samples); start += chunk {
		end := start + chunk
		if end > len(samples) {
			end = len(samples)
		}

		if res, ok := engine.Accept(samples[start:end]); ok && res.Final {
			reportMatch(res.Text, parser, logger)
		}
	}

	if res, ok := engine.Flush(); ok && res.Final {
		reportMatch(res.Text, parser, logger)
	}

	return nil
}

// normalizeBuffer downmixes and resamples decoded PCM to the recognizer's
// required format. Samples wider than 16 bits are scaled down, not
// truncated.
func normalizeBuffer(buf *audio.IntBuffer, bitDepth int) []int16 {
	var shift uint
	if bitDepth > 16 {
		shift = uint(bitDepth - 16)
	}

	samples := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = int16(s >> shift)
	}

	samples = audio_capture.Downmix(samples, buf.Format.NumChannels)

	if buf.Format.SampleRate != audio_capture.DefaultTargetRate {
		samples = audio_capture.Resample(samples, buf.Format.SampleRate, audio_capture.DefaultTargetRate)
	}

	return samples
}

func reportMatch(text string, parser *command_parser.Parser, logger *zap.Logger) {
	mapping, found := parser.Parse(text)
	if !found {
		logger.Info("recognized, no matching command", zap.String("text", text))
		return
	}

	logger.Info("recognized command",
		zap.String("text", text),
		zap.String("voice_command", mapping.VoiceCommand),
		zap.String("target_input", mapping.TargetInput),
		zap.String("action", string(mapping.Action)))
}
