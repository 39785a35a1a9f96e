package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"path/filepath"
	"regexp"
	"strings"

	"snore-detection/config"
	"snore-detection/snore"
	"snore-detection/wav"

	"github.com/joho/godotenv"
)

// Mixes background noise into labelled clips so the classifier sees snoring
// over fans, traffic and breathing. Each output keeps the source clip's label.
var augmentedName = regexp.MustCompile(`_noise\d{2}$`)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	clipDir := flag.String("clips", cfg.SnoreDir, "Directory of clips to augment")
	noiseDir := flag.String("noise-dir", "", "Directory containing background noise WAV files")
	outDir := flag.String("out", "", "Output directory (defaults to the clip directory)")
	snrDb := flag.Float64("snr", 10, "Target signal-to-noise ratio in dB")
	variants := flag.Int("variants", 1, "Noisy copies per clip")
	seed := flag.Uint64("seed", 42, "Seed for noise selection and offsets")
	flag.Parse()

	if *noiseDir == "" {
		log.Fatal("Usage: add_noise_samples -noise-dir <directory> [-clips <dir>] [-out <dir>] [-snr dB]")
	}
	if *outDir == "" {
		*outDir = *clipDir
	}

	all, err := snore.ListWavFiles(*clipDir)
	if err != nil {
		log.Fatalf("failed to list clips: %v", err)
	}
	clips, skipped := sourceClips(all)
	if skipped > 0 {
		log.Printf("Skipping %d clips that are already augmented", skipped)
	}
	noiseFiles, err := snore.ListWavFiles(*noiseDir)
	if err != nil {
		log.Fatalf("failed to list noise directory: %v", err)
	}
	if len(clips) == 0 || len(noiseFiles) == 0 {
		log.Fatalf("need clips and noise files (clips=%d noise=%d)", len(clips), len(noiseFiles))
	}

	var noises [][]float64
	for _, path := range noiseFiles {
		samples, err := wav.LoadClip(path, cfg.SampleRate, 0)
		if err != nil || len(samples) == 0 {
			log.Printf("  skipping noise %s: %v", filepath.Base(path), err)
			continue
		}
		noises = append(noises, samples)
	}
	if len(noises) == 0 {
		log.Fatal("no usable noise files")
	}
	log.Printf("Loaded %d noise files, augmenting %d clips at %.1f dB SNR\n", len(noises), len(clips), *snrDb)

	rng := rand.New(rand.NewPCG(*seed, *seed))
	written := 0
	for _, path := range clips {
		clip, err := wav.LoadClip(path, cfg.SampleRate, cfg.WindowSeconds)
		if err != nil {
			log.Printf("  ERROR: %s: %v", filepath.Base(path), err)
			continue
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		for v := 0; v < *variants; v++ {
			noise := noises[rng.IntN(len(noises))]
			mixed := mixAtSNR(clip, noise, rng.IntN(len(noise)), *snrDb)
			out := filepath.Join(*outDir, fmt.Sprintf("%s_noise%02d.wav", base, v+1))
			if err := wav.WriteWavFile(out, mixed, cfg.SampleRate); err != nil {
				log.Printf("  ERROR: %s: %v", out, err)
				continue
			}
			written++
		}
	}

	log.Printf("\n✓ Wrote %d augmented clips to %s", written, *outDir)
}

// sourceClips drops paths written by an earlier run, so rerunning into the
// clip directory never stacks noise on noise.
func sourceClips(paths []string) ([]string, int) {
	var kept []string
	for _, path := range paths {
		if augmentedName.MatchString(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))) {
			continue
		}
		kept = append(kept, path)
	}
	return kept, len(paths) - len(kept)
}

// mixAtSNR adds noise, looped from offset, scaled so that the clip's RMS sits
// snrDb above it. Peaks are clipped to [-1, 1].
func mixAtSNR(clip, noise []float64, offset int, snrDb float64) []float64 {
	out := make([]float64, len(clip))
	noiseRMS := snore.RMS(noise)
	gain := 0.0
	if noiseRMS > 0 {
		gain = snore.RMS(clip) / (noiseRMS * math.Pow(10, snrDb/20))
	}
	for i, s := range clip {
		v := s + gain*noise[(offset+i)%len(noise)]
		out[i] = math.Max(-1, math.Min(1, v))
	}
	return out
}
