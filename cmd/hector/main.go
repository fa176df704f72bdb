package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hector9000/hector/config"
	"github.com/hector9000/hector/diag"
	"github.com/hector9000/hector/dose"
	"github.com/hector9000/hector/mathx"
	"github.com/hector9000/hector/metrics"
	"github.com/hector9000/hector/progress"
	"github.com/hector9000/hector/rig"
	"github.com/hector9000/hector/util"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "hector.yml"

	logger = log.New(os.Stderr, "", log.LstdFlags)
)

func root() {
	str := `hector drives a cocktail dispensing rig: a stepper arm carrying the glass,
servo valves, an air pump, a load cell, and a bell

Usage:
	hector <command> [args]

Commands:
	help
	version
	mkconf
	conf
	init
	arm-out
	arm-in
	dose <valve> <amount> [timeout seconds]
	pour <valve>=<amount> ...
	ping [count]
	light on|off
	serve`
	fmt.Println(str)
}

func help() {
	str := `hector reads hector.yml from the working directory, if present, on top of
built in defaults.  Any key may be overridden from the environment with a
HECTOR_ prefix and double underscores between levels, e.g.

	HECTOR_BOARD__ADDR=/dev/ttyACM0
	HECTOR_BOARD__MOCK=true

mkconf writes the effective configuration to hector.yml, conf prints it.

With Board.Mock set, a simulated rig is used and nothing is sent to hardware.

dose requires the arm to be out already (arm-out).  pour moves the arm out,
doses each ingredient in order, moves the arm in and rings the bell.  The
last valve in the table is reserved and cannot be dosed from.

serve exposes /status, /metrics, and /endpoints at Diag.Addr.  It is read
only.  Commands and serve may not share a board; run commands with the
server stopped.`
	fmt.Println(str)
}

func mkconf(c config.Config) error {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		return err
	}
	defer f.Close()
	return config.Write(f, c)
}

func pversion() {
	fmt.Printf("hector version %v\n", Version)
}

// openBoard returns the board a command runs on
var openBoard = rig.NewBoard

// withSpinner runs op with a terminal spinner showing its progress
func withSpinner(op func(progress.Func) (string, error)) error {
	sp, err := progress.NewSpinner(os.Stdout)
	if err != nil {
		return err
	}
	if err = sp.Start(); err != nil {
		return err
	}
	msg, err := op(progress.Throttle(sp.Func(), 20))
	if err != nil {
		sp.Stop(false, err.Error())
		return err
	}
	return sp.Stop(true, msg)
}

// openRig builds and initializes the rig.  On error the rig is already closed.
func openRig(c config.Config, obs dose.Observer) (*rig.Rig, error) {
	opts := rig.Options{Logger: logger, Observer: obs}
	r := rig.New(c, openBoard(c, opts), opts)
	if err := r.Init(); err != nil {
		if cerr := r.Close(); cerr != nil {
			logger.Println(cerr)
		}
		return nil, err
	}
	return r, nil
}

func parseIngredient(s string) (rig.Ingredient, error) {
	parts := strings.SplitN(s, "=", 2)
	if len(parts) != 2 {
		return rig.Ingredient{}, fmt.Errorf("ingredient %q is not valve=amount", s)
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return rig.Ingredient{}, err
	}
	a, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return rig.Ingredient{}, err
	}
	return rig.Ingredient{Valve: v, Amount: a}, nil
}

func doseCmd(r *rig.Rig, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: hector dose <valve> <amount> [timeout seconds]")
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	amt, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return err
	}
	req := dose.Request{Valve: v, Amount: amt}
	if len(args) > 2 {
		secs, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return err
		}
		req.Timeout = util.SecsToDuration(secs)
	}
	return withSpinner(func(fn progress.Func) (string, error) {
		res, err := r.Dose(req, fn)
		if err != nil {
			return "", err
		}
		if res.Outcome != dose.Completed {
			return "", fmt.Errorf("%v after %v", res.Outcome, res.Elapsed.Round(time.Millisecond))
		}
		return fmt.Sprintf("%v of %v", mathx.Round(res.Weight, 0.1), mathx.Round(res.Target, 0.1)), nil
	})
}

func pourCmd(r *rig.Rig, args []string) error {
	ings := make([]rig.Ingredient, 0, len(args))
	for _, a := range args {
		ing, err := parseIngredient(a)
		if err != nil {
			return err
		}
		ings = append(ings, ing)
	}
	return withSpinner(func(fn progress.Func) (string, error) {
		res, err := r.Pour(ings, fn)
		if err != nil {
			return "", err
		}
		if !res.Completed() {
			return "", fmt.Errorf("ingredient %d: %v", res.Failed, res.Doses[res.Failed].Outcome)
		}
		return fmt.Sprintf("%d ingredients", len(ings)), nil
	})
}

func serve(c config.Config) error {
	col := metrics.New(prometheus.DefaultRegisterer)
	r, err := openRig(c, col)
	if err != nil {
		return err
	}
	defer r.Close()
	mux := diag.BuildMux(r, prometheus.DefaultGatherer)
	log.Println("now listening for requests at ", c.Diag.Addr)
	return http.ListenAndServe(c.Diag.Addr, mux)
}

// hardware lists the commands that open the rig
var hardware = map[string]bool{
	"init": true, "arm-out": true, "arm-in": true, "dose": true,
	"pour": true, "ping": true, "light": true,
}

// command runs one hardware command on an open rig
func command(r *rig.Rig, cmd string, args []string) error {
	switch cmd {
	case "init":
		log.Println("rig initialized")
		return nil
	case "arm-out":
		return withSpinner(func(fn progress.Func) (string, error) {
			st, err := r.ArmOut(fn)
			return st.String(), err
		})
	case "arm-in":
		return withSpinner(func(fn progress.Func) (string, error) {
			st, err := r.ArmIn(fn)
			return st.String(), err
		})
	case "dose":
		return doseCmd(r, args)
	case "pour":
		return pourCmd(r, args)
	case "ping":
		n := 1
		if len(args) > 0 {
			var err error
			if n, err = strconv.Atoi(args[0]); err != nil {
				return err
			}
		}
		return r.Ping(n, false)
	case "light":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return errors.New("usage: hector light on|off")
		}
		return r.SetLight(args[0] == "on")
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// run executes the command line and returns the exit code.  The rig, once
// opened, is closed before run returns, whatever the outcome.
func run(args []string) int {
	if len(args) == 1 {
		root()
		return 0
	}
	c, err := config.Load(ConfigFileName)
	if err != nil {
		log.Printf("error loading config: %v", err)
		return 1
	}
	cmd := strings.ToLower(args[1])
	rest := args[2:]
	switch cmd {
	case "help":
		help()
		return 0
	case "mkconf":
		err = mkconf(c)
	case "conf":
		err = config.Write(os.Stdout, c)
	case "version":
		pversion()
		return 0
	case "serve":
		err = serve(c)
	default:
		if !hardware[cmd] {
			err = fmt.Errorf("unknown command %q", cmd)
			break
		}
		var r *rig.Rig
		r, err = openRig(c, nil)
		if err != nil {
			break
		}
		err = command(r, cmd, rest)
		if cerr := r.Close(); cerr != nil {
			log.Println(cerr)
			if err == nil {
				err = cerr
			}
		}
	}
	if err != nil {
		log.Println(err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args))
}
