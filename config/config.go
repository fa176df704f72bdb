// Package config holds the rig's wiring and calibration and loads it from
// defaults, a YAML file, and HECTOR_ environment variables, in that order.
//
// Values are not range checked here.  The components reject bad indices and
// positions when they are used.
package config

import (
	"errors"
	"io"
	"io/fs"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"

	"github.com/hector9000/hector/arm"
	"github.com/hector9000/hector/valve"
)

// EnvPrefix is the prefix of environment overrides.  Nested keys are joined
// with a double underscore, e.g. HECTOR_BOARD__ADDR
const EnvPrefix = "HECTOR_"

// Board is the connection to the I/O board
type Board struct {
	// Addr is a serial port name or a host:port
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Serial selects a serial connection at Baud instead of TCP
	Serial bool `yaml:"Serial" koanf:"Serial"`
	Baud   int  `yaml:"Baud" koanf:"Baud"`

	// Timeout is the connect, read, and write timeout in seconds
	Timeout float64 `yaml:"Timeout" koanf:"Timeout"`

	// Mock replaces the board with a simulated rig
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// Debug logs every exchange with the board
	Debug bool `yaml:"Debug" koanf:"Debug"`
}

// PCA9685 is the servo expander and what hangs off it
type PCA9685 struct {
	Freq            float64      `yaml:"Freq" koanf:"Freq"`
	Valves          []valve.Spec `yaml:"Valves" koanf:"Valves"`
	FingerChannel   int          `yaml:"FingerChannel" koanf:"FingerChannel"`
	FingerPositions [3]uint16    `yaml:"FingerPositions" koanf:"FingerPositions"`
	LightPin        int          `yaml:"LightPin" koanf:"LightPin"`
}

// Arm is the A4988 stepper driver and the OUT sensor
type Arm struct {
	Pins     arm.Pins `yaml:"Pins" koanf:"Pins"`
	NumSteps int      `yaml:"NumSteps" koanf:"NumSteps"`
}

// Pump is the air pump control line
type Pump struct {
	Pin int `yaml:"Pin" koanf:"Pin"`
}

// HX711 is the load cell amplifier
type HX711 struct {
	Reference float64 `yaml:"Reference" koanf:"Reference"`
	Samples   int     `yaml:"Samples" koanf:"Samples"`
}

// Dose holds dosing defaults
type Dose struct {
	// Timeout is the stall timeout in seconds
	Timeout float64 `yaml:"Timeout" koanf:"Timeout"`
}

// Diag is the read-only diagnostics server
type Diag struct {
	Addr string `yaml:"Addr" koanf:"Addr"`
}

// Config is the complete rig configuration
type Config struct {
	Board   Board   `yaml:"Board" koanf:"Board"`
	PCA9685 PCA9685 `yaml:"PCA9685" koanf:"PCA9685"`
	Arm     Arm     `yaml:"Arm" koanf:"Arm"`
	Pump    Pump    `yaml:"Pump" koanf:"Pump"`
	HX711   HX711   `yaml:"HX711" koanf:"HX711"`
	Dose    Dose    `yaml:"Dose" koanf:"Dose"`
	Diag    Diag    `yaml:"Diag" koanf:"Diag"`
}

// Default returns the configuration of a stock rig with twelve valves
func Default() Config {
	valves := make([]valve.Spec, 12)
	for i := range valves {
		valves[i] = valve.Spec{Channel: i, Open: 500, Closed: 200}
	}
	return Config{
		Board: Board{
			Addr:    "/dev/ttyUSB0",
			Serial:  true,
			Baud:    115200,
			Timeout: 3,
		},
		PCA9685: PCA9685{
			Freq:            60,
			Valves:          valves,
			FingerChannel:   15,
			FingerPositions: [3]uint16{200, 400, 450},
			LightPin:        31,
		},
		Arm: Arm{
			Pins:     arm.Pins{Enable: 11, Reset: 13, Sleep: 15, Step: 19, Dir: 21, Sense: 37},
			NumSteps: 800,
		},
		Pump:  Pump{Pin: 29},
		HX711: HX711{Reference: 412, Samples: 5},
		Dose:  Dose{Timeout: 30},
		Diag:  Diag{Addr: ":8000"},
	}
}

// Load reads the configuration.  A missing file is not an error; the
// defaults and environment are used alone.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	c := Config{}
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return c, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) && !strings.Contains(err.Error(), "no such") {
				return c, err
			}
		}
	}
	known := k.Keys()
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.Replace(strings.TrimPrefix(s, EnvPrefix), "__", ".", -1)
		for _, kk := range known {
			if strings.EqualFold(kk, key) {
				return kk
			}
		}
		return key
	}), nil)
	if err != nil {
		return c, err
	}
	err = k.Unmarshal("", &c)
	return c, err
}

// Write encodes c as YAML
func Write(w io.Writer, c Config) error {
	return yml.NewEncoder(w).Encode(c)
}
