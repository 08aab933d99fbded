// Command simulate drives one of the fixture scenarios in
// pdevscore/examples end to end from the command line, the way
// fc-server drove a benchmark workload: flags select the engine and
// its knobs, init() registers them, main() wires a Controller and
// runs it to completion.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/pprof"

	"pdevscore/allocator"
	"pdevscore/config"
	"pdevscore/controller"
	"pdevscore/examples"
	"pdevscore/model"
	"pdevscore/simlog"
	"pdevscore/timestamp"
	"pdevscore/tracer"
)

var (
	scenario      string
	simType       string
	coreCount     int
	terminationAt float64
	gvtIntervalMS int
	zombieThresh  int
	saveInterval  int
	walDir        string
	debug         bool
	traceInfo     bool
	cpuProfile    string
	memProfile    string
)

func usage() {
	fmt.Fprintln(os.Stderr, "simulate: run a fixture scenario against the pdevscore engine")
	flag.PrintDefaults()
}

func init() {
	flag.StringVar(&scenario, "scenario", "trafficlight", "fixture to run: trafficlight, trafficlight_policeman, abstract_ab, interconnect, devstone")
	flag.StringVar(&simType, "sim", "sequential", "sequential, dynamic_structure, optimistic, or conservative")
	flag.IntVar(&coreCount, "cores", 1, "number of worker cores")
	flag.Float64Var(&terminationAt, "until", 360, "termination time")
	flag.IntVar(&gvtIntervalMS, "gvt-interval-ms", 200, "GVT round interval under optimistic sim")
	flag.IntVar(&zombieThresh, "zombie-threshold", 10, "consecutive idle steps before a core gives up")
	flag.IntVar(&saveInterval, "save-interval", 50, "trace records buffered before a WAL flush")
	flag.StringVar(&walDir, "wal-dir", "", "directory for the trace WAL; empty disables tracing")
	flag.BoolVar(&debug, "debug", false, "log step-by-step core activity")
	flag.BoolVar(&traceInfo, "trace", false, "log GVT rounds and DS phases")
	flag.StringVar(&cpuProfile, "cpu-prof", "", "write a CPU profile to this path")
	flag.StringVar(&memProfile, "mem-prof", "", "write a heap profile to this path")
	flag.Usage = usage
}

func parseSimType(s string) (config.SimType, error) {
	switch s {
	case "sequential":
		return config.Sequential, nil
	case "dynamic_structure":
		return config.DynamicStructure, nil
	case "optimistic":
		return config.Optimistic, nil
	case "conservative":
		return config.Conservative, nil
	default:
		return 0, fmt.Errorf("unknown sim type %q", s)
	}
}

func buildScenario(name string) (*model.Coupled, error) {
	root := model.NewCoupled("root")
	switch name {
	case "trafficlight":
		root.AddAtomic(examples.NewTrafficLight("light"))
	case "trafficlight_policeman":
		light := examples.NewTrafficLight("light")
		cop := examples.NewPoliceman("cop", 200, 300)
		root.AddAtomic(light)
		root.AddAtomic(cop)
		root.Connect(model.PortRef{Owner: "cop", Port: 0}, model.PortRef{Owner: "light", Port: 0}, nil)
	case "abstract_ab":
		a := examples.NewGeneratorA("a", 40, 60, 70)
		b := examples.NewConsumerB("b")
		root.AddAtomic(a)
		root.AddAtomic(b)
		root.Connect(model.PortRef{Owner: "a", Port: 0}, model.PortRef{Owner: "b", Port: 0}, nil)
	case "interconnect":
		sink := examples.NewSink("sink")
		root.AddAtomic(sink)
		for i := 0; i < 5; i++ {
			g := examples.NewRandomGenerator(fmt.Sprintf("gen_%d", i), 75, 125, 8, int64(1000+i))
			root.AddAtomic(g)
			root.Connect(model.PortRef{Owner: g.Name(), Port: 0}, model.PortRef{Owner: "sink", Port: 0}, nil)
		}
	case "devstone":
		examples.BuildDevStone(root, 5, 5, 100)
	default:
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
	return root, nil
}

func main() {
	flag.Parse()

	simlog.ShowDebugInfo = debug
	simlog.ShowTraceInfo = traceInfo

	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Fatalf("could not create cpu profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("could not start cpu profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	st, err := parseSimType(simType)
	if err != nil {
		log.Fatal(err)
	}
	root, err := buildScenario(scenario)
	if err != nil {
		log.Fatal(err)
	}

	var tr tracer.Tracer = tracer.NopTracer{}
	if walDir != "" {
		wt, err := tracer.NewWALTracer(walDir, uint32(saveInterval))
		if err != nil {
			log.Fatalf("could not open trace wal: %v", err)
		}
		defer wt.Close()
		tr = wt
	}

	cfg := config.Defaults()
	cfg.SimType = st
	cfg.CoreCount = coreCount
	cfg.TerminationTime = timestamp.At(terminationAt)
	cfg.GVTIntervalMS = uint32(gvtIntervalMS)
	cfg.ZombieIdleThreshold = uint32(zombieThresh)
	cfg.SaveInterval = uint32(saveInterval)
	cfg.Allocator = allocator.RoundRobin{}

	ctl, err := controller.New(cfg, root, tr)
	if err != nil {
		log.Fatalf("controller setup failed: %v", err)
	}
	if err := ctl.Simulate(); err != nil {
		log.Fatalf("simulation failed: %v", err)
	}

	fmt.Printf("scenario=%s sim=%s cores=%d gvt_rounds_found=%d gvt_rounds_failed=%d\n",
		scenario, simType, coreCount, ctl.GVTStats.Found, ctl.GVTStats.Failed)

	if memProfile != "" {
		f, err := os.Create(memProfile)
		if err != nil {
			log.Fatalf("could not create memory profile: %v", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatalf("could not write memory profile: %v", err)
		}
	}
}
