// wheelprobe reports which hashed-timer-wheel bucket a given expiry would
// land in, for offline debugging of the cascading-free wheel's bucket
// placement (spec.md §4.7 calc_wheel_index).
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"dlsched/pkg/wheel"
)

var errInvalidLevels = errors.New("levels must be between wheel.MinLevels and wheel.MaxLevels")

type probeConfig struct {
	expiry int64
	clk    int64
	levels int
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		logFatal(err)
	}

	level, globalIndex, bucketExpiry := wheel.ProbeBucket(cfg.expiry, cfg.clk, cfg.levels)

	log.Printf("expiry=%d clk=%d levels=%d -> level=%d bucket=%d bucketExpiry=%d",
		cfg.expiry, cfg.clk, cfg.levels, level, globalIndex, bucketExpiry)
}

func parseConfig(args []string) (probeConfig, error) {
	var cfg probeConfig

	flags := flag.NewFlagSet("wheelprobe", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	flags.Int64Var(&cfg.expiry, "expiry", 0, "absolute expiry, in tick units")
	flags.Int64Var(&cfg.clk, "clk", 0, "wheel's current base clock reading, in tick units")
	flags.IntVar(&cfg.levels, "levels", wheel.MaxLevels, "wheel depth (8 or 9)")

	if err := flags.Parse(args); err != nil {
		return probeConfig{}, fmt.Errorf("parse flags: %w", err)
	}

	if cfg.levels < wheel.MinLevels || cfg.levels > wheel.MaxLevels {
		return probeConfig{}, fmt.Errorf("%w: got %d", errInvalidLevels, cfg.levels)
	}

	return cfg, nil
}

func logFatal(err error) {
	log.Printf("error: %v", err)
	os.Exit(1)
}
